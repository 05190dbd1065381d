package receipt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

const (
	extractionBucketName = "extractions"
	runBucketName        = "runs"
)

// ErrNotFound is returned when a key is absent from the database
var ErrNotFound = errors.New("not found")

// CachedExtraction is the merged, unvalidated record a provider returned for
// the same photo bytes. Validation runs again on every use so roster changes
// apply.
type CachedExtraction struct {
	Digest    string    `json:"digest"`
	Record    Record    `json:"record"`
	CreatedAt time.Time `json:"created_at"`
}

// DB defines the interface for database operations
type DB interface {
	// SaveExtraction caches a record under the digest of its photos
	SaveExtraction(entry *CachedExtraction) error

	// GetExtraction returns the cached record for a digest or ErrNotFound
	GetExtraction(digest string) (*CachedExtraction, error)

	// SaveRun saves a batch run summary
	SaveRun(run *Run) error

	// GetRun retrieves a run by ID
	GetRun(id string) (*Run, error)

	// ListRuns returns all runs, newest first
	ListRuns() ([]*Run, error)

	// DeleteRun removes a run or returns ErrNotFound
	DeleteRun(id string) error

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	// Create buckets if they don't exist
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{extractionBucketName, runBucketName} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

func (b *BoltDB) put(bucketName, key string, v any) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshaling %s entry: %w", bucketName, err)
		}
		return tx.Bucket([]byte(bucketName)).Put([]byte(key), data)
	})
}

func (b *BoltDB) get(bucketName, key string, v any) error {
	return b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketName)).Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%s %s: %w", bucketName, key, ErrNotFound)
		}
		return decodeJSON(data, v)
	})
}

// SaveExtraction caches a record under the digest of its photos
func (b *BoltDB) SaveExtraction(entry *CachedExtraction) error {
	return b.put(extractionBucketName, entry.Digest, entry)
}

// GetExtraction returns the cached record for a digest
func (b *BoltDB) GetExtraction(digest string) (*CachedExtraction, error) {
	var entry CachedExtraction
	if err := b.get(extractionBucketName, digest, &entry); err != nil {
		return nil, err
	}
	entry.Record = normalizeRecord(entry.Record)
	return &entry, nil
}

// SaveRun saves a batch run summary
func (b *BoltDB) SaveRun(run *Run) error {
	return b.put(runBucketName, run.ID, run)
}

// GetRun retrieves a run by ID
func (b *BoltDB) GetRun(id string) (*Run, error) {
	var run Run
	if err := b.get(runBucketName, id, &run); err != nil {
		return nil, err
	}
	normalizeRun(&run)
	return &run, nil
}

// ListRuns returns all runs, newest first
func (b *BoltDB) ListRuns() ([]*Run, error) {
	runs := make([]*Run, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(runBucketName)).ForEach(func(k, v []byte) error {
			var run Run
			if err := decodeJSON(v, &run); err != nil {
				return fmt.Errorf("unmarshaling run: %w", err)
			}
			normalizeRun(&run)
			runs = append(runs, &run)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs, nil
}

// DeleteRun removes a run from the history
func (b *BoltDB) DeleteRun(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(runBucketName))
		if bucket.Get([]byte(id)) == nil {
			return fmt.Errorf("%s %s: %w", runBucketName, id, ErrNotFound)
		}
		return bucket.Delete([]byte(id))
	})
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}

// decodeJSON keeps numbers as json.Number so fares survive as integers
func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

func normalizeRun(run *Run) {
	for i, r := range run.Records {
		run.Records[i] = normalizeRecord(r)
	}
}

// normalizeRecord turns json.Number values back into int64 or float64
func normalizeRecord(r Record) Record {
	for k, v := range r {
		n, ok := v.(json.Number)
		if !ok {
			continue
		}
		if i, err := n.Int64(); err == nil {
			r[k] = i
		} else if f, err := n.Float64(); err == nil {
			r[k] = f
		}
	}
	return r
}
