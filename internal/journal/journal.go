// Package journal keeps a history of finished jobs in a bbolt database.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/desertwitch/workio/internal/job"
	"github.com/desertwitch/workio/internal/schema"
	"go.etcd.io/bbolt"
)

var jobsBucket = []byte("jobs")

const openTimeout = 2 * time.Second

// Record is the stored outcome of one job.
type Record struct {
	ID        string           `json:"id"`
	Kind      string           `json:"kind"`
	URL       string           `json:"url"`
	Dest      string           `json:"dest,omitempty"`
	State     string           `json:"state"`
	Code      schema.ErrorCode `json:"code"`
	Error     string           `json:"error,omitempty"`
	Processed uint64           `json:"processed"`
	Total     uint64           `json:"total"`
	Started   time.Time        `json:"started,omitzero"`
	Finished  time.Time        `json:"finished,omitzero"`
}

// Failed returns if the job ended with an error.
func (r Record) Failed() bool {
	return r.Code != schema.CodeNone
}

// RecordOf builds the [Record] of j.
func RecordOf(j *job.Job) Record {
	processed, total := j.Progress()
	started, finished := j.Times()

	r := Record{
		ID:        j.ID(),
		Kind:      j.Kind().String(),
		URL:       j.URL(),
		Dest:      j.Dest(),
		State:     j.State().String(),
		Processed: processed,
		Total:     total,
		Started:   started,
		Finished:  finished,
	}

	if err := j.Err(); err != nil {
		jerr := schema.AsJobError(err)
		r.Code = jerr.Code
		r.Error = jerr.Text
	}

	if r.Finished.IsZero() {
		r.Finished = time.Now()
	}

	return r
}

// Journal is a job history backed by bbolt.
type Journal struct {
	db *bbolt.DB
}

// Open opens or creates the journal database at path.
func Open(path string) (*Journal, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("(journal-open) %w", err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(jobsBucket)

		return err
	}); err != nil {
		db.Close()

		return nil, fmt.Errorf("(journal-open) bucket: %w", err)
	}

	return &Journal{db: db}, nil
}

// Record stores the outcome of j, replacing an earlier record of the same
// job.
func (jr *Journal) Record(j *job.Job) error {
	return jr.Put(RecordOf(j))
}

// Put stores r under its id.
func (jr *Journal) Put(r Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("(journal-put) marshal: %w", err)
	}

	if err := jr.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(jobsBucket)
		if b == nil {
			return ErrNoBucket
		}

		return b.Put([]byte(r.ID), data)
	}); err != nil {
		return fmt.Errorf("(journal-put) %s: %w", r.ID, err)
	}

	return nil
}

// Get returns the record of the job with id.
func (jr *Journal) Get(id string) (Record, error) {
	var r Record

	err := jr.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(jobsBucket)
		if b == nil {
			return ErrNoBucket
		}

		data := b.Get([]byte(id))
		if data == nil {
			return ErrRecordNotFound
		}

		return json.Unmarshal(data, &r)
	})
	if err != nil {
		return Record{}, fmt.Errorf("(journal-get) %s: %w", id, err)
	}

	return r, nil
}

// List returns the records, most recently finished first. A positive limit
// caps the number of records returned.
func (jr *Journal) List(limit int) ([]Record, error) {
	var records []Record

	err := jr.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(jobsBucket)
		if b == nil {
			return ErrNoBucket
		}

		return b.ForEach(func(k, v []byte) error {
			var r Record
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
			records = append(records, r)

			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("(journal-list) %w", err)
	}

	slices.SortStableFunc(records, func(a, b Record) int {
		return b.Finished.Compare(a.Finished)
	})

	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	return records, nil
}

// Prune deletes all but the keep most recently finished records and
// returns how many were deleted.
func (jr *Journal) Prune(keep int) (int, error) {
	records, err := jr.List(0)
	if err != nil {
		return 0, fmt.Errorf("(journal-prune) %w", err)
	}

	if len(records) <= keep {
		return 0, nil
	}
	stale := records[max(keep, 0):]

	if err := jr.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(jobsBucket)
		if b == nil {
			return ErrNoBucket
		}

		var errs []error
		for _, r := range stale {
			errs = append(errs, b.Delete([]byte(r.ID)))
		}

		return errors.Join(errs...)
	}); err != nil {
		return 0, fmt.Errorf("(journal-prune) %w", err)
	}

	return len(stale), nil
}

// Close closes the database.
func (jr *Journal) Close() error {
	return jr.db.Close()
}
