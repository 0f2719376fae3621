package receipt

import (
	"path/filepath"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antigravity-dev/ontoflow/internal/clock"
)

func TestNewRejectsActionMuMismatch(t *testing.T) {
	_, err := New("sha256:snap", digest.Digest("sha256:aaaa"), digest.Digest("sha256:bbbb"), clock.Hot, 3)
	require.ErrorIs(t, err, ErrIntegrityViolation)
}

func TestHashIsStableForIdenticalReceipts(t *testing.T) {
	r1, err := New("sha256:snap", digest.Digest("sha256:aaaa"), digest.Digest("sha256:aaaa"), clock.Hot, 3)
	require.NoError(t, err)
	r2 := *r1
	r2.Timestamp = r1.Timestamp
	assert.Equal(t, r1.Hash(), r2.Hash())
}

func TestMemoryLogChainsAndVerifies(t *testing.T) {
	log := NewMemoryLog()
	for i := 0; i < 5; i++ {
		r := Compact("sha256:snap", "sha256:act", "sha256:act", 3)
		_, err := log.Append(r)
		require.NoError(t, err)
	}
	require.NoError(t, log.Verify(0, 4))

	entries, err := log.Iter(0, 4)
	require.NoError(t, err)
	require.Len(t, entries, 5)
}

func TestMemoryLogDetectsTamperedChain(t *testing.T) {
	log := NewMemoryLog()
	r1 := Compact("sha256:snap", "sha256:act", "sha256:act", 3)
	log.Append(r1)
	r2 := Compact("sha256:snap", "sha256:act2", "sha256:act2", 3)
	log.Append(r2)

	entry, err := log.Get(1)
	require.NoError(t, err)
	entry.PrevHash = "sha256:tampered"

	err = log.Verify(0, 1)
	var chainErr *ErrChainBroken
	require.ErrorAs(t, err, &chainErr)
	assert.Equal(t, ID(1), chainErr.At)
}

func TestSQLiteLogRoundTripAndVerify(t *testing.T) {
	dir := t.TempDir()
	log, err := OpenSQLiteLog(filepath.Join(dir, "receipts.db"))
	require.NoError(t, err)
	defer log.Close()

	var last ID
	for i := 0; i < 3; i++ {
		r := Compact("sha256:snap", "sha256:act", "sha256:act", 3)
		id, err := log.Append(r)
		require.NoError(t, err)
		last = id
	}

	require.NoError(t, log.Verify(0, last))

	got, err := log.Get(last)
	require.NoError(t, err)
	assert.Equal(t, digest.Digest("sha256:act"), got.ActionHash)
}
