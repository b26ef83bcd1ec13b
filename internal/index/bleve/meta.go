package bleve

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	bucketMeta = "meta"
	keyIndex   = "index"
)

var errDecode = errors.New("decode failed")

type indexMeta struct {
	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
	Version   int64 `json:"version"`
}

// Version reports how many mutation batches the index has applied.
func (s *Store) Version() (int64, error) {
	if s == nil || s.meta == nil {
		return 0, fmt.Errorf("store is not open")
	}
	var m indexMeta
	err := s.meta.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketMeta))
		if b == nil {
			return fmt.Errorf("meta bucket missing")
		}
		return decode(b.Get([]byte(keyIndex)), &m)
	})
	return m.Version, err
}

func (s *Store) ensureMeta() error {
	return s.meta.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucketMeta))
		if err != nil {
			return err
		}
		if b.Get([]byte(keyIndex)) != nil {
			return nil
		}
		now := nowUnix()
		buf, err := encode(indexMeta{CreatedAt: now, UpdatedAt: now})
		if err != nil {
			return err
		}
		return b.Put([]byte(keyIndex), buf)
	})
}

func (s *Store) bumpVersion() error {
	return s.meta.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucketMeta))
		if err != nil {
			return err
		}
		m := indexMeta{CreatedAt: nowUnix()}
		if raw := b.Get([]byte(keyIndex)); raw != nil {
			if err := decode(raw, &m); err != nil {
				return err
			}
		}
		m.Version++
		m.UpdatedAt = nowUnix()
		buf, err := encode(m)
		if err != nil {
			return err
		}
		return b.Put([]byte(keyIndex), buf)
	})
}

func decode(data []byte, target any) error {
	if len(data) == 0 {
		return errDecode
	}
	return json.Unmarshal(data, target)
}

func encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func nowUnix() int64 {
	return time.Now().Unix()
}
