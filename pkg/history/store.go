package history

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const bucket = "captures"

const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Record describes one capture run.
type Record struct {
	ID     uint64 `json:"-"`
	RunID  string `json:"run_id"`
	Server string `json:"server"`
	Device string `json:"device"`

	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	Settings map[string]float64 `json:"settings,omitempty"`
	Exposure float64            `json:"exposure"`

	Output string `json:"output"`
	Size   int    `json:"size,omitempty"`
	Format string `json:"format,omitempty"`
	Digest string `json:"digest,omitempty"`

	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (r Record) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

type Store struct {
	db *bolt.DB
}

// Open opens or creates the history database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open history database %s: %v", path, err)
	}
	return NewStore(db)
}

func NewStore(db *bolt.DB) (*Store, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bucket %s: %v", bucket, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Add saves the record as a json string under the next bucket sequence
// and returns its ID.
func (s *Store) Add(r Record) (uint64, error) {
	var id uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket %s not found", bucket)
		}

		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		id = seq

		value, err := json.Marshal(r)
		if err != nil {
			return err
		}
		return b.Put(itob(seq), value)
	})
	return id, err
}

// Get retrieves a record by ID.
func (s *Store) Get(id uint64) (Record, error) {
	var r Record

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket %s not found", bucket)
		}

		value := b.Get(itob(id))
		if value == nil {
			return fmt.Errorf("record %d not found", id)
		}
		return json.Unmarshal(value, &r)
	})
	r.ID = id

	return r, err
}

// List returns up to n records, newest first. n <= 0 returns all of them.
func (s *Store) List(n int) ([]Record, error) {
	var records []Record

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket %s not found", bucket)
		}

		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if n > 0 && len(records) == n {
				break
			}
			var r Record
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("failed to decode record %d: %v", btoi(k), err)
			}
			r.ID = btoi(k)
			records = append(records, r)
		}
		return nil
	})

	return records, err
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func btoi(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
