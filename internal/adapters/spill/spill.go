// Package spill keeps unflushed progress updates in a bbolt file across a
// shutdown whose final flush failed, so they can be replayed on start.
package spill

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sugawarayuuta/sonnet"
	bolt "go.etcd.io/bbolt"

	"github.com/okian/typerace/internal/domain/model"
)

var bucket = []byte("progress")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("spill closed")

// File is a bbolt-backed spill.
type File struct {
	db *bolt.DB
}

// Open opens or creates the spill file at path.
func Open(path string) (*File, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open spill %s: %w", path, err)
	}
	return &File{db: db}, nil
}

// Spill stores batch keyed by participant id. A later spill of the same
// participant replaces the earlier one.
func (f *File) Spill(_ context.Context, batch []model.ProgressUpdate) error {
	if f.db == nil {
		return ErrClosed
	}
	return f.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucket)
		if err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
		for _, u := range batch {
			raw, err := sonnet.Marshal(u)
			if err != nil {
				return fmt.Errorf("marshal %s: %w", u.ParticipantID, err)
			}
			if err := b.Put([]byte(u.ParticipantID), raw); err != nil {
				return fmt.Errorf("put %s: %w", u.ParticipantID, err)
			}
		}
		return nil
	})
}

// Drain returns every spilled update and empties the file in the same
// transaction.
func (f *File) Drain(_ context.Context) ([]model.ProgressUpdate, error) {
	if f.db == nil {
		return nil, ErrClosed
	}
	var out []model.ProgressUpdate
	err := f.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		if err := b.ForEach(func(k, v []byte) error {
			var u model.ProgressUpdate
			if err := sonnet.Unmarshal(v, &u); err != nil {
				return fmt.Errorf("unmarshal %s: %w", k, err)
			}
			out = append(out, u)
			return nil
		}); err != nil {
			return err
		}
		return tx.DeleteBucket(bucket)
	})
	if err != nil {
		return nil, fmt.Errorf("drain spill: %w", err)
	}
	return out, nil
}

// Close closes the file.
func (f *File) Close() error {
	if f.db == nil {
		return nil
	}
	err := f.db.Close()
	f.db = nil
	return err
}
