package statedb

import (
	"encoding/binary"
	"encoding/json"
	"math/big"
	"time"

	bolt "go.etcd.io/bbolt"

	"airlend/native/market"
)

var (
	bucketSettings  = []byte("collateral_settings")
	bucketPositions = []byte("positions")
	bucketMeta      = []byte("meta")

	keyOrgFeePot = []byte("org_fee_pot")
)

// Store persists market engine snapshots in a BoltDB file. Records are keyed
// by insertion sequence so a restore reproduces the engine's registration and
// scan order exactly.
type Store struct {
	db *bolt.DB
}

// Open initialises (and migrates) the BoltDB-backed store at path.
func Open(path string, options *bolt.Options) (*Store, error) {
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketSettings, bucketPositions, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying Bolt database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save replaces the stored snapshot with snap in one transaction.
func (s *Store) Save(snap *market.StateSnapshot) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketSettings, bucketPositions} {
			if err := tx.DeleteBucket(name); err != nil && err != bolt.ErrBucketNotFound {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		settings := tx.Bucket(bucketSettings)
		for i, rec := range snap.Settings {
			raw, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			if err := settings.Put(seqKey(uint64(i)), raw); err != nil {
				return err
			}
		}
		positions := tx.Bucket(bucketPositions)
		for i, rec := range snap.Positions {
			raw, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			if err := positions.Put(seqKey(uint64(i)), raw); err != nil {
				return err
			}
		}
		pot := snap.OrgFeePot
		if pot == nil {
			pot = big.NewInt(0)
		}
		return tx.Bucket(bucketMeta).Put(keyOrgFeePot, []byte(pot.String()))
	})
}

// Load reads the stored snapshot. An empty database yields an empty snapshot.
func (s *Store) Load() (*market.StateSnapshot, error) {
	snap := &market.StateSnapshot{OrgFeePot: big.NewInt(0)}
	err := s.db.View(func(tx *bolt.Tx) error {
		if bucket := tx.Bucket(bucketSettings); bucket != nil {
			if err := bucket.ForEach(func(_, raw []byte) error {
				var rec market.CollateralRecord
				if err := json.Unmarshal(raw, &rec); err != nil {
					return err
				}
				snap.Settings = append(snap.Settings, rec)
				return nil
			}); err != nil {
				return err
			}
		}
		if bucket := tx.Bucket(bucketPositions); bucket != nil {
			if err := bucket.ForEach(func(_, raw []byte) error {
				var rec market.PositionRecord
				if err := json.Unmarshal(raw, &rec); err != nil {
					return err
				}
				snap.Positions = append(snap.Positions, rec)
				return nil
			}); err != nil {
				return err
			}
		}
		if meta := tx.Bucket(bucketMeta); meta != nil {
			if raw := meta.Get(keyOrgFeePot); len(raw) > 0 {
				pot, ok := new(big.Int).SetString(string(raw), 10)
				if ok {
					snap.OrgFeePot = pot
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// seqKey encodes an insertion sequence number so bolt's byte-wise iteration
// order matches insertion order.
func seqKey(i uint64) []byte {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], i)
	return key[:]
}
