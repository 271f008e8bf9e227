package padstore

import (
	"bytes"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

var localBucket = []byte("records")

// keyPrefix is prepended to every stored key. Bolt rejects empty keys,
// and a constant prefix keeps byte order intact.
const keyPrefix = 'k'

// LocalTable is a Table persisted to a single bolt database file on the
// local filesystem. All records live in one bucket and scans walk a cursor.
type LocalTable struct {
	db      *bolt.DB
	path    string
	pageCap int
}

// OpenLocalTable opens (creating if necessary) the table stored at path.
// Intermediate directories are created as needed.
func OpenLocalTable(path string) (*LocalTable, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(localBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	log.Debugf("Opened local table %s", path)
	return &LocalTable{
		db:      db,
		path:    path,
		pageCap: DefaultPageCap,
	}, nil
}

func storedKey(key string) []byte {
	stored := make([]byte, 0, len(key)+1)
	stored = append(stored, keyPrefix)
	return append(stored, key...)
}

// Put stores value under key.
func (l *LocalTable) Put(key string, value []byte) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(localBucket).Put(storedKey(key), copyBytes(value))
	})
}

// Scan returns up to limit records within r.
func (l *LocalTable) Scan(r Range, limit int) ([]Record, error) {
	limit = clampLimit(limit, l.pageCap)
	if limit <= 0 {
		return nil, nil
	}

	out := make([]Record, 0)
	err := l.db.View(func(tx *bolt.Tx) error {
		start := storedKey(r.Start)
		c := tx.Bucket(localBucket).Cursor()
		k, v := c.Seek(start)
		if k != nil && !r.StartInclusive && bytes.Equal(k, start) {
			k, v = c.Next()
		}
		for ; k != nil && len(out) < limit; k, v = c.Next() {
			key := string(k[1:])
			if !r.beforeEnd(key) {
				break
			}
			// Bolt memory is only valid for the life of the transaction.
			out = append(out, Record{Key: key, Value: copyBytes(v)})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes key if present.
func (l *LocalTable) Delete(key string) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(localBucket).Delete(storedKey(key))
	})
}

// PageCap returns the maximum number of records per Scan.
func (l *LocalTable) PageCap() int {
	return l.pageCap
}

// Close releases the database file.
func (l *LocalTable) Close() error {
	return l.db.Close()
}
