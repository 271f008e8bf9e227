package paddock

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/bcongdon/paddock/internal/pkg/padstore"
)

const (
	// disambiguatorFloor is never handed out as a disambiguator, so a scan
	// starting strictly after it sees every entry of a bag.
	disambiguatorFloor = "00000000-0000-0000-0000-000000000000"
	// disambiguatorCeiling sorts after every UUID string.
	disambiguatorCeiling = "~"
)

// errBagAbandoned is returned when a bag drain is cut short by its caller.
var errBagAbandoned = errors.New("bag retrieval abandoned")

// shuffleStore holds intermediate Map output for one job namespace as a
// multimap from intermediate key to a bag of values.
//
// Tables only offer point writes and range scans, so every value is stored
// as its own entry under <namespace>/<hex(key)>/<disambiguator>. Hex keeps
// byte order, and '/' sorts before every hex digit, so the entries of one
// bag are contiguous and precede those of any longer key sharing its prefix.
type shuffleStore struct {
	table     Table
	namespace string
	pageSize  int
	newID     func() (string, error)
}

func newShuffleStore(table Table, namespace string, pageSize int) *shuffleStore {
	if pageSize <= 0 || pageSize > table.PageCap() {
		pageSize = table.PageCap()
	}
	return &shuffleStore{
		table:     table,
		namespace: namespace,
		pageSize:  pageSize,
		newID:     newDisambiguator,
	}
}

func newDisambiguator() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func (s *shuffleStore) bagPrefix(key string) string {
	return s.namespace + "/" + hex.EncodeToString([]byte(key)) + "/"
}

func (s *shuffleStore) decodeKey(entryKey string) (string, error) {
	rest := strings.TrimPrefix(entryKey, s.namespace+"/")
	sep := strings.IndexByte(rest, '/')
	if sep < 0 {
		return "", fmt.Errorf("malformed shuffle entry %q", entryKey)
	}
	decoded, err := hex.DecodeString(rest[:sep])
	if err != nil {
		return "", fmt.Errorf("malformed shuffle entry %q: %w", entryKey, err)
	}
	return string(decoded), nil
}

// Write appends value to the bag for key.
func (s *shuffleStore) Write(key string, value []byte) error {
	id, err := s.newID()
	if err != nil {
		return err
	}
	return s.table.Put(s.bagPrefix(key)+id, value)
}

// NextKey returns the smallest intermediate key with at least one entry
// inside r. ok is false when r holds no more keys.
func (s *shuffleStore) NextKey(r ShardRange) (key string, ok bool, err error) {
	if r.Empty() {
		return "", false, nil
	}

	scan := padstore.Range{
		Start: s.bagPrefix(r.Start) + disambiguatorCeiling,
		End:   s.bagPrefix(r.End) + disambiguatorFloor,
	}
	if r.StartInclusive {
		scan.Start = s.bagPrefix(r.Start) + disambiguatorFloor
	}
	if r.EndInclusive {
		scan.End = s.bagPrefix(r.End) + disambiguatorCeiling
	}
	if r.openEnded() {
		// '~' sorts after every hex digit, so this closes the namespace only.
		scan.End = s.namespace + "/" + disambiguatorCeiling
	}

	records, err := s.table.Scan(scan, 1)
	if err != nil || len(records) == 0 {
		return "", false, err
	}
	key, err = s.decodeKey(records[0].Key)
	if err != nil {
		return "", false, err
	}
	return key, true, nil
}

// Bag returns every value written for key, fetched page by page. Between
// pages keepGoing is consulted; when it returns false the drain stops with
// errBagAbandoned.
func (s *shuffleStore) Bag(key string, keepGoing func() bool) ([][]byte, error) {
	prefix := s.bagPrefix(key)
	scan := padstore.Range{
		Start: prefix + disambiguatorFloor,
		End:   prefix + disambiguatorCeiling,
	}

	values := make([][]byte, 0)
	for {
		page, err := s.table.Scan(scan, s.pageSize)
		if err != nil {
			return nil, err
		}
		for _, rec := range page {
			values = append(values, rec.Value)
		}
		if len(page) < s.pageSize {
			return values, nil
		}
		scan.Start = page[len(page)-1].Key
		if keepGoing != nil && !keepGoing() {
			return nil, errBagAbandoned
		}
	}
}
