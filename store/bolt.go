package store

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"go.etcd.io/bbolt"
)

const bucket = "scenarios"

// BoltDB persists Scenarios in a single bbolt bucket, adapted from
// phenix/store/bolt.go's bucket-per-kind JSON-marshal idiom, collapsed to
// one bucket since this store has only one record kind.
type BoltDB struct {
	db *bbolt.DB
}

func NewBoltDB() Store {
	return new(BoltDB)
}

func (b *BoltDB) Init(opts ...Option) error {
	options := NewOptions(opts...)

	u, err := url.Parse(options.Endpoint)
	if err != nil {
		return fmt.Errorf("parsing BoltDB endpoint: %w", err)
	}

	if u.Scheme != "bolt" {
		return fmt.Errorf("invalid scheme %q for BoltDB endpoint", u.Scheme)
	}

	b.db, err = bbolt.Open(u.Host+u.Path, 0600, &bbolt.Options{NoFreelistSync: true})
	if err != nil {
		return fmt.Errorf("opening BoltDB file: %w", err)
	}

	return b.ensureBucket()
}

func (b *BoltDB) Close() error {
	return b.db.Close()
}

func (b *BoltDB) ensureBucket() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return fmt.Errorf("creating bucket in Bolt: %w", err)
		}

		return nil
	})
}

func (b *BoltDB) List() ([]Scenario, error) {
	var out []Scenario

	err := b.db.View(func(tx *bbolt.Tx) error {
		bk := tx.Bucket([]byte(bucket))
		if bk == nil {
			return nil
		}

		return bk.ForEach(func(_, v []byte) error {
			var s Scenario

			if err := json.Unmarshal(v, &s); err != nil {
				return fmt.Errorf("unmarshaling scenario JSON: %w", err)
			}

			out = append(out, s)

			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("listing scenarios from store: %w", err)
	}

	return out, nil
}

func (b *BoltDB) Get(name string) (Scenario, error) {
	v, err := b.get(name)
	if err != nil {
		return Scenario{}, fmt.Errorf("getting scenario: %w", err)
	}

	var s Scenario

	if err := json.Unmarshal(v, &s); err != nil {
		return Scenario{}, fmt.Errorf("unmarshaling scenario JSON: %w", err)
	}

	return s, nil
}

func (b *BoltDB) Create(s Scenario) error {
	if _, err := b.get(s.Name); err == nil {
		return fmt.Errorf("scenario %s already exists", s.Name)
	}

	now := time.Now().Format(time.RFC3339)

	s.Created = now
	s.Updated = now

	return b.write(s)
}

func (b *BoltDB) Update(s Scenario) error {
	if _, err := b.get(s.Name); err != nil {
		return fmt.Errorf("scenario does not exist")
	}

	s.Updated = time.Now().Format(time.RFC3339)

	return b.write(s)
}

func (b *BoltDB) Delete(name string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bk := tx.Bucket([]byte(bucket))
		if bk == nil {
			return nil
		}

		return bk.Delete([]byte(name))
	})
}

func (b *BoltDB) get(name string) ([]byte, error) {
	var v []byte

	err := b.db.View(func(tx *bbolt.Tx) error {
		bk := tx.Bucket([]byte(bucket))
		if bk == nil {
			return nil
		}

		v = bk.Get([]byte(name))

		return nil
	})
	if err != nil {
		return nil, err
	}

	if v == nil {
		return nil, fmt.Errorf("scenario %s does not exist", name)
	}

	return v, nil
}

func (b *BoltDB) write(s Scenario) error {
	v, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling scenario JSON: %w", err)
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		bk := tx.Bucket([]byte(bucket))
		return bk.Put([]byte(s.Name), v)
	})
}
