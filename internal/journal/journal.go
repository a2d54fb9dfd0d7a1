// Package journal keeps an append-only history of proxy operations in a
// bbolt database.
package journal

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/metacubex/bbolt"
)

var bucketRecords = []byte("records")

// Record is one finished operation.
type Record struct {
	ID       string    `json:"id"`
	Time     time.Time `json:"time"`
	Op       string    `json:"op"`
	Host     string    `json:"host,omitempty"`
	Port     int       `json:"port,omitempty"`
	Success  bool      `json:"success"`
	Code     string    `json:"code,omitempty"`
	Message  string    `json:"message"`
	Snapshot string    `json:"snapshot,omitempty"`
}

// Journal stores records in insertion order.
type Journal struct {
	db  *bbolt.DB
	now func() time.Time
}

// Open opens or creates the journal at path. A corrupt file is replaced.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		if errors.Is(err, bbolt.ErrInvalid) || errors.Is(err, bbolt.ErrChecksum) || errors.Is(err, bbolt.ErrVersionMismatch) {
			if os.Remove(path) == nil {
				db, err = bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
			}
		}
		if err != nil {
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRecords)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialise journal: %w", err)
	}

	return &Journal{db: db, now: time.Now}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record appends r, filling in ID and Time when empty.
func (j *Journal) Record(r Record) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Time.IsZero() {
		r.Time = j.now().UTC()
	}

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	err = j.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketRecords)
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return bucket.Put(key, data)
	})
	if err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first. A limit of zero or less
// returns everything.
func (j *Journal) Recent(limit int) ([]Record, error) {
	var records []Record
	err := j.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketRecords).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(records) >= limit {
				break
			}
			var r Record
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("failed to decode record %x: %w", k, err)
			}
			records = append(records, r)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	return records, nil
}
