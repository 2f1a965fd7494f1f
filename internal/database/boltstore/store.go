// Package boltstore provides persistent storage using BoltDB (bbolt).
// It implements the moderation.Store interface for the report queue, the
// action ledger and user restrictions.
package boltstore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Bucket names for organizing data
var (
	// BucketReports stores reports keyed by TID
	BucketReports = []byte("moderation_reports")

	// BucketReportsByReporter indexes reports by "reporterID\x00reportID"
	BucketReportsByReporter = []byte("moderation_reports_by_reporter")

	// BucketActions stores the append-only action ledger keyed by TID
	BucketActions = []byte("moderation_actions")

	// BucketActionsByTarget indexes actions by "targetUserID\x00actionID"
	BucketActionsByTarget = []byte("moderation_actions_by_target")

	// BucketRestrictions stores user restrictions keyed by TID
	BucketRestrictions = []byte("moderation_restrictions")

	// BucketRestrictionsByUser indexes restrictions by "userID\x00restrictionID"
	BucketRestrictionsByUser = []byte("moderation_restrictions_by_user")

	// BucketActiveRestrictions maps "userID\x00kind" to the one active restriction id
	BucketActiveRestrictions = []byte("moderation_active_restrictions")
)

// Store wraps a BoltDB database and provides access to specialized stores.
type Store struct {
	db *bolt.DB
}

// Options configures the BoltDB store.
type Options struct {
	// Path to the database file. Parent directories will be created if needed.
	Path string

	// Timeout for obtaining a file lock on the database.
	// If zero, a default of 5 seconds is used.
	Timeout time.Duration

	// FileMode for creating the database file.
	// If zero, 0600 is used.
	FileMode os.FileMode
}

// DefaultOptions returns sensible defaults for development.
func DefaultOptions() Options {
	return Options{
		Path:     "arbiter.db",
		Timeout:  5 * time.Second,
		FileMode: 0600,
	}
}

// Open creates or opens a BoltDB database at the specified path.
// It creates all necessary buckets if they don't exist.
func Open(opts Options) (*Store, error) {
	if opts.Path == "" {
		opts.Path = "arbiter.db"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.FileMode == 0 {
		opts.FileMode = 0600
	}

	// Ensure parent directory exists
	dir := filepath.Dir(opts.Path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := bolt.Open(opts.Path, opts.FileMode, &bolt.Options{
		Timeout: opts.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets if they don't exist
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			BucketReports,
			BucketReportsByReporter,
			BucketActions,
			BucketActionsByTarget,
			BucketRestrictions,
			BucketRestrictionsByUser,
			BucketActiveRestrictions,
		}

		for _, bucket := range buckets {
			_, err := tx.CreateBucketIfNotExists(bucket)
			if err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB returns the underlying BoltDB instance for advanced operations.
func (s *Store) DB() *bolt.DB {
	return s.db
}

// ModerationStore returns a moderation store backed by this database.
func (s *Store) ModerationStore() *ModerationStore {
	return &ModerationStore{db: s.db}
}

// Stats returns database statistics.
func (s *Store) Stats() bolt.Stats {
	return s.db.Stats()
}
