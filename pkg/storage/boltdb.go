package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/archapi/pkg/errdefs"
	"github.com/cuemby/archapi/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketJobs         = []byte("jobs")
	bucketFleetRecords = []byte("fleet_records")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "archapi.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketJobs, bucketFleetRecords} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// NextJobID returns the next value of the persisted job sequence, so ids
// keep increasing across restarts
func (s *BoltStore) NextJobID() (int64, error) {
	var id uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		id, err = tx.Bucket(bucketJobs).NextSequence()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to allocate job id: %w", err)
	}
	return int64(id), nil
}

// Fleet record operations
func (s *BoltStore) SaveRecord(rec *types.FleetCorrelationRecord) error {
	if rec == nil || rec.Fleet == "" {
		return errdefs.Invalidf("correlation record requires a fleet name")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFleetRecords)
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(rec.Fleet), data)
	})
}

func (s *BoltStore) GetRecord(fleet string) (*types.FleetCorrelationRecord, error) {
	var rec types.FleetCorrelationRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFleetRecords)
		data := b.Get([]byte(fleet))
		if data == nil {
			return errdefs.NotFoundf("there is no process for fleet %s", fleet)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *BoltStore) ListRecords() ([]*types.FleetCorrelationRecord, error) {
	var records []*types.FleetCorrelationRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFleetRecords)
		return b.ForEach(func(k, v []byte) error {
			var rec types.FleetCorrelationRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			records = append(records, &rec)
			return nil
		})
	})
	return records, err
}

func (s *BoltStore) DeleteRecord(fleet string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFleetRecords)
		return b.Delete([]byte(fleet))
	})
}
