// Package journal persists measurement cycle outcomes in a local bbolt file so
// the station history survives restarts and network outages.
package journal

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/mjasion/phenostation/station"
)

const cyclesBucket = "cycles"

// Journal appends cycle results to a bbolt database
type Journal struct {
	db     *bolt.DB
	logger *zap.Logger
}

// Open opens or creates the journal at path
func Open(path string, logger *zap.Logger) (*Journal, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(cyclesBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket %s: %w", cyclesBucket, err)
	}

	return &Journal{db: db, logger: logger}, nil
}

// Record appends res under the next sequence key. Errors are logged only;
// losing a journal entry never interrupts measuring.
func (j *Journal) Record(_ context.Context, res station.CycleResult) {
	if err := j.append(res); err != nil {
		j.logger.Warn("failed to journal cycle", zap.Uint64("seq", res.Seq), zap.Error(err))
	}
}

func (j *Journal) append(res station.CycleResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(cyclesBucket))
		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(itob(id), data)
	})
}

// Recent returns up to n most recent results, oldest first
func (j *Journal) Recent(n int) ([]station.CycleResult, error) {
	if n <= 0 {
		return nil, nil
	}

	var out []station.CycleResult
	err := j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(cyclesBucket)).Cursor()
		for k, v := c.Last(); k != nil && len(out) < n; k, v = c.Prev() {
			var res station.CycleResult
			if err := json.Unmarshal(v, &res); err != nil {
				return fmt.Errorf("decode entry %d: %w", binary.BigEndian.Uint64(k), err)
			}
			out = append(out, res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i, k := 0, len(out)-1; i < k; i, k = i+1, k-1 {
		out[i], out[k] = out[k], out[i]
	}
	return out, nil
}

// Count returns the number of journaled cycles
func (j *Journal) Count() (int, error) {
	var n int
	err := j.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket([]byte(cyclesBucket)).Stats().KeyN
		return nil
	})
	return n, err
}

// Close closes the database
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return errors.New("journal not open")
	}
	return j.db.Close()
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
