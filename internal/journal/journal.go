// Package journal keeps an append-only history of issued certificates in a
// BBolt database.
package journal

import (
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

var bucketIssuances = []byte("issuances")

// keyTimeLayout sorts lexically in time order.
const keyTimeLayout = "20060102T150405.000000000Z"

// ErrNoJournal is returned when opening a journal read-only that was never created.
var ErrNoJournal = errors.New("journal does not exist")

// Kind classifies an issuance.
type Kind string

const (
	KindRoot       Kind = "root"
	KindLeaf       Kind = "leaf"
	KindSelfSigned Kind = "self-signed"
)

// Record describes one issued certificate.
type Record struct {
	ID        string    `json:"id"`
	PassID    string    `json:"pass_id,omitempty"`
	Kind      Kind      `json:"kind"`
	Reason    string    `json:"reason"`
	Serial    string    `json:"serial"`
	Subject   string    `json:"subject"`
	Issuer    string    `json:"issuer"`
	NotBefore time.Time `json:"not_before"`
	NotAfter  time.Time `json:"not_after"`
	IssuedAt  time.Time `json:"issued_at"`
}

// NewRecord describes cert as issued at now.
func NewRecord(kind Kind, reason string, cert *x509.Certificate, now time.Time) Record {
	return Record{
		ID:        uuid.NewString(),
		Kind:      kind,
		Reason:    reason,
		Serial:    fmt.Sprintf("%x", cert.SerialNumber),
		Subject:   cert.Subject.String(),
		Issuer:    cert.Issuer.String(),
		NotBefore: cert.NotBefore,
		NotAfter:  cert.NotAfter,
		IssuedAt:  now,
	}
}

// Store is a BBolt backed journal.
type Store struct {
	db *bbolt.DB
}

// Open opens or creates the journal at path. A read-only journal must
// already exist.
func Open(path string, readOnly bool) (*Store, error) {
	if readOnly {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoJournal, path)
		}
	} else if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second, ReadOnly: readOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append stores rec. A missing ID is generated.
func (s *Store) Append(rec Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.IssuedAt.IsZero() {
		rec.IssuedAt = time.Now()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode journal record: %w", err)
	}

	key := []byte(rec.IssuedAt.UTC().Format(keyTimeLayout) + ":" + rec.ID)
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketIssuances)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

// List returns up to limit records, newest first. limit <= 0 returns all.
func (s *Store) List(limit int) ([]Record, error) {
	var records []Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketIssuances)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("corrupt journal record %s: %w", k, err)
			}
			records = append(records, rec)
			if limit > 0 && len(records) == limit {
				break
			}
		}
		return nil
	})
	return records, err
}

// Latest returns the most recent record of the given kind.
func (s *Store) Latest(kind Kind) (Record, bool, error) {
	records, err := s.List(0)
	if err != nil {
		return Record{}, false, err
	}
	for _, rec := range records {
		if rec.Kind == kind {
			return rec, true, nil
		}
	}
	return Record{}, false, nil
}
