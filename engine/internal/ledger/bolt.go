package ledger

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"net/http"

	bolt "go.etcd.io/bbolt"

	"arachne/engine/models"
)

var (
	bucketBodies  = []byte("bodies")
	bucketHeaders = []byte("headers")
)

// BoltStore spills bodies and headers to a bbolt file so large crawls do
// not hold every response in memory.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if needed) the database file.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketBodies); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketHeaders)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) PutBody(uqID string, body []byte, headers http.Header) error {
	var headerBuf bytes.Buffer
	if err := gob.NewEncoder(&headerBuf).Encode(headers); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketBodies).Put([]byte(uqID), body); err != nil {
			return err
		}
		return tx.Bucket(bucketHeaders).Put([]byte(uqID), headerBuf.Bytes())
	})
}

func (s *BoltStore) Body(uqID string) ([]byte, http.Header, bool, error) {
	var body []byte
	var headers http.Header
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketBodies).Get([]byte(uqID))
		if raw == nil {
			return nil
		}
		found = true
		body = append([]byte(nil), raw...)
		if rawHeaders := tx.Bucket(bucketHeaders).Get([]byte(uqID)); rawHeaders != nil {
			return gob.NewDecoder(bytes.NewReader(rawHeaders)).Decode(&headers)
		}
		return nil
	})
	if err != nil {
		return nil, nil, false, err
	}
	return body, headers, found, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }
