package chain

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger"
	"github.com/sirupsen/logrus"
)

const snapshotKey = "chain-snapshot"

// Snapshot is the persisted form of a chain: the whole chain plus the
// difficulty-adjustment parameters.
type Snapshot struct {
	Chain              []*Block `json:"chain"`
	Difficulty         int      `json:"difficulty"`
	TargetBlockTime    int      `json:"target_block_time"`
	AdjustmentInterval int      `json:"adjustment_interval"`
	LastAdjustment     float64  `json:"last_difficulty_adjustment"`
}

// Snapshot captures the chain's persistable state. Blocks keep their stored
// hashes; nothing is recomputed.
func (c *Chain) Snapshot() *Snapshot {
	c.lock.Lock()
	defer c.lock.Unlock()

	blocks := make([]*Block, len(c.blocks))
	copy(blocks, c.blocks)

	return &Snapshot{
		Chain:              blocks,
		Difficulty:         c.difficulty,
		TargetBlockTime:    int(c.targetBlockTime.Seconds()),
		AdjustmentInterval: c.adjustmentInterval,
		LastAdjustment:     float64(c.lastAdjustment.UnixNano()) / 1e9,
	}
}

// RestoreChain rebuilds a chain from a snapshot, reinstating the stored block
// hashes as-is.
func RestoreChain(snapshot *Snapshot, logger *logrus.Entry) *Chain {
	c := NewChain(
		snapshot.Difficulty,
		time.Duration(snapshot.TargetBlockTime)*time.Second,
		snapshot.AdjustmentInterval,
		logger,
	)

	if len(snapshot.Chain) > 0 {
		c.blocks = snapshot.Chain
	}

	if snapshot.LastAdjustment > 0 {
		sec := int64(snapshot.LastAdjustment)
		nsec := int64((snapshot.LastAdjustment - float64(sec)) * 1e9)
		c.lastAdjustment = time.Unix(sec, nsec)
	}

	return c
}

// SaveFile writes the snapshot document to a JSON file, creating parent
// directories as needed.
func (c *Chain) SaveFile(file string) error {
	raw, err := json.MarshalIndent(c.Snapshot(), "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(file), 0700); err != nil {
		return err
	}

	return ioutil.WriteFile(file, raw, 0600)
}

// LoadFile reads a snapshot document from a JSON file and rebuilds the chain.
func LoadFile(file string, logger *logrus.Entry) (*Chain, error) {
	raw, err := ioutil.ReadFile(file)
	if err != nil {
		return nil, err
	}

	snapshot := new(Snapshot)
	if err := json.Unmarshal(raw, snapshot); err != nil {
		return nil, err
	}

	return RestoreChain(snapshot, logger), nil
}

// BadgerStore persists chain snapshots in a badger database.
type BadgerStore struct {
	db   *badger.DB
	path string
}

// NewBadgerStore opens (or creates) a badger database at path.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	opts.SyncWrites = false

	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &BadgerStore{
		db:   handle,
		path: path,
	}, nil
}

// Path returns the database directory.
func (s *BadgerStore) Path() string {
	return s.path
}

// Save writes the chain's snapshot document under a fixed key, replacing any
// previous snapshot.
func (s *BadgerStore) Save(c *Chain) error {
	raw, err := json.Marshal(c.Snapshot())
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(snapshotKey), raw)
	})
}

// Load reads the last saved snapshot and rebuilds the chain. It returns
// badger.ErrKeyNotFound when the store holds no snapshot yet.
func (s *BadgerStore) Load(logger *logrus.Entry) (*Chain, error) {
	var raw []byte

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(snapshotKey))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	snapshot := new(Snapshot)
	if err := json.Unmarshal(raw, snapshot); err != nil {
		return nil, err
	}

	return RestoreChain(snapshot, logger), nil
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
