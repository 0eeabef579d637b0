package chain

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/Jimmyu2foru18/Blockchain-Gossip-Network/src/common"
)

func minedChain(t *testing.T, blocks int) *Chain {
	c := testChain(t, 1)
	for i := 0; i < blocks; i++ {
		c.AddTransaction(signedTx("alice", "bob", float64(i+1)))
		require.NotNil(t, c.MinePending("miner"))
	}
	return c
}

func TestFileSnapshotRoundtrip(t *testing.T) {
	c := minedChain(t, 2)

	file := filepath.Join(t.TempDir(), "data", "blockchain.json")
	require.NoError(t, c.SaveFile(file))

	logger := common.NewTestEntry(t, logrus.DebugLevel)
	restored, err := LoadFile(file, logger)
	require.NoError(t, err)

	require.Equal(t, c.Length(), restored.Length())
	require.Equal(t, c.Difficulty(), restored.Difficulty())
	require.Equal(t, c.LatestBlock().Hash, restored.LatestBlock().Hash)
	require.True(t, restored.IsValid())

	// Stored hashes are reinstated, not recomputed.
	require.Equal(t, c.Blocks()[1].Hash, restored.Blocks()[1].Hash)
}

func TestLoadFileMissing(t *testing.T) {
	logger := common.NewTestEntry(t, logrus.DebugLevel)
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.json"), logger)
	require.Error(t, err)
}

func TestBadgerSnapshotRoundtrip(t *testing.T) {
	c := minedChain(t, 2)

	store, err := NewBadgerStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Save(c))

	logger := common.NewTestEntry(t, logrus.DebugLevel)
	restored, err := store.Load(logger)
	require.NoError(t, err)

	require.Equal(t, c.Length(), restored.Length())
	require.Equal(t, c.LatestBlock().Hash, restored.LatestBlock().Hash)
	require.True(t, restored.IsValid())
}

func TestBadgerLoadEmpty(t *testing.T) {
	store, err := NewBadgerStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	logger := common.NewTestEntry(t, logrus.DebugLevel)
	_, err = store.Load(logger)
	require.Error(t, err)
}

func TestRestoreChainDefaults(t *testing.T) {
	snapshot := &Snapshot{
		Difficulty:         3,
		TargetBlockTime:    30,
		AdjustmentInterval: 5,
	}

	c := RestoreChain(snapshot, common.NewTestEntry(t, logrus.DebugLevel))

	// An empty persisted chain falls back to a fresh genesis.
	require.Equal(t, 1, c.Length())
	require.Equal(t, 3, c.Difficulty())
	require.Equal(t, 30*time.Second, c.targetBlockTime)
}
