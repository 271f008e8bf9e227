package padstore

import (
	"encoding/hex"
	"io/ioutil"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/mattetti/filebuffer"
)

// S3Table is a Table that stores one S3 object per record.
// Object names are the hex-encoded record key under a common prefix, so
// S3's lexicographic listing order is the key order.
type S3Table struct {
	Client s3iface.S3API
	Bucket string
	Prefix string
}

// NewS3Table creates an S3Table using the shared AWS configuration.
func NewS3Table(bucket, prefix string) (*S3Table, error) {
	sess, err := session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, err
	}
	return &S3Table{
		Client: s3.New(sess),
		Bucket: bucket,
		Prefix: prefix,
	}, nil
}

func (s *S3Table) objectName(key string) string {
	return s.Prefix + hex.EncodeToString([]byte(key))
}

func (s *S3Table) recordKey(objectName string) (string, error) {
	decoded, err := hex.DecodeString(strings.TrimPrefix(objectName, s.Prefix))
	return string(decoded), err
}

// Put stores value under key.
func (s *S3Table) Put(key string, value []byte) error {
	input := &s3.PutObjectInput{
		Body:   filebuffer.New(value),
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.objectName(key)),
	}
	_, err := s.Client.PutObject(input)
	return err
}

// get fetches the value stored under an object name. ok is false when the
// object does not exist.
func (s *S3Table) get(objectName string) (value []byte, ok bool, err error) {
	output, err := s.Client.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(objectName),
	})
	if aerr, isAWSErr := err.(awserr.Error); isAWSErr && aerr.Code() == s3.ErrCodeNoSuchKey {
		return nil, false, nil
	} else if err != nil {
		return nil, false, err
	}
	defer output.Body.Close()

	value, err = ioutil.ReadAll(output.Body)
	return value, err == nil, err
}

// Scan returns up to limit records within r.
func (s *S3Table) Scan(r Range, limit int) ([]Record, error) {
	limit = clampLimit(limit, s.PageCap())
	if limit <= 0 {
		return nil, nil
	}

	records := make([]Record, 0)

	// ListObjectsV2 only supports an exclusive lower bound.
	startName := s.objectName(r.Start)
	if r.StartInclusive && startName != "" && r.beforeEnd(r.Start) {
		value, ok, err := s.get(startName)
		if err != nil {
			return nil, err
		}
		if ok {
			records = append(records, Record{Key: r.Start, Value: value})
		}
	}

	input := &s3.ListObjectsV2Input{
		Bucket:     aws.String(s.Bucket),
		Prefix:     aws.String(s.Prefix),
		StartAfter: aws.String(startName),
	}
	for len(records) < limit {
		input.MaxKeys = aws.Int64(int64(limit - len(records)))
		page, err := s.Client.ListObjectsV2(input)
		if err != nil {
			return nil, err
		}

		for _, object := range page.Contents {
			key, err := s.recordKey(*object.Key)
			if err != nil {
				// Not written by this table
				continue
			}
			if !r.beforeEnd(key) {
				return records, nil
			}
			value, ok, err := s.get(*object.Key)
			if err != nil {
				return nil, err
			}
			if ok {
				records = append(records, Record{Key: key, Value: value})
			}
			if len(records) == limit {
				return records, nil
			}
		}

		if !aws.BoolValue(page.IsTruncated) {
			break
		}
		input.ContinuationToken = page.NextContinuationToken
	}
	return records, nil
}

// Delete removes key if present.
func (s *S3Table) Delete(key string) error {
	_, err := s.Client.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.objectName(key)),
	})
	return err
}

// PageCap returns the S3 listing cap.
func (s *S3Table) PageCap() int {
	return DefaultPageCap
}
