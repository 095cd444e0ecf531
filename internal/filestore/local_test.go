package filestore

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medrex/caseledger/pkg/encryption"
	"github.com/medrex/caseledger/pkg/monitoring"
	"github.com/medrex/caseledger/pkg/types"
)

func newLocal(t *testing.T) *Local {
	t.Helper()
	s, err := OpenLocalInMemory("http://localhost:8080/api/v1/files/")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLocal_AddIsContentAddressed(t *testing.T) {
	s := newLocal(t)
	ctx := context.Background()

	a, err := s.Add(ctx, "a.txt", strings.NewReader("blood panel"))
	require.NoError(t, err)
	b, err := s.Add(ctx, "b.txt", strings.NewReader("blood panel"))
	require.NoError(t, err)

	assert.Equal(t, a.CID, b.CID)
	assert.Equal(t, encryption.HashData([]byte("blood panel")), a.CID)
	assert.Equal(t, "http://localhost:8080/api/v1/files/"+a.CID, a.URL)

	data, err := s.Cat(ctx, a.CID)
	require.NoError(t, err)
	assert.Equal(t, "blood panel", string(data))
}

func TestLocal_CatMissing(t *testing.T) {
	s := newLocal(t)

	_, err := s.Cat(context.Background(), "deadbeef")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestEncrypted_StoresCiphertext(t *testing.T) {
	local := newLocal(t)
	enc, err := encryption.NewAESEncryption("secret")
	require.NoError(t, err)
	s := NewEncrypted(local, enc, "http://localhost:8080/api/v1/files/")
	ctx := context.Background()

	f, err := s.Add(ctx, "mri.dcm", bytes.NewReader([]byte("mri-bytes")))
	require.NoError(t, err)
	assert.Equal(t, int64(9), f.Size)
	assert.Equal(t, "http://localhost:8080/api/v1/files/"+f.CID, f.URL)

	raw, err := local.Cat(ctx, f.CID)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "mri-bytes")

	plain, err := s.Cat(ctx, f.CID)
	require.NoError(t, err)
	assert.Equal(t, "mri-bytes", string(plain))
}

func TestEncrypted_OverIPFSPointsAtService(t *testing.T) {
	client, node := newTestClient(t)
	enc, err := encryption.NewAESEncryption("secret")
	require.NoError(t, err)
	s := NewEncrypted(client, enc, "https://ledger.example/api/v1/files")
	ctx := context.Background()

	first, err := s.Add(ctx, "lab.pdf", strings.NewReader("hb 13.5"))
	require.NoError(t, err)
	second, err := s.Add(ctx, "lab.pdf", strings.NewReader("hb 13.5"))
	require.NoError(t, err)

	// fresh nonces: the same plaintext seals to different ciphertext
	assert.NotEqual(t, first.CID, second.CID)
	assert.NotEqual(t, string(node.blobs[first.CID]), string(node.blobs[second.CID]))
	assert.Equal(t, "https://ledger.example/api/v1/files/"+first.CID, first.URL)
	assert.Equal(t, first.URL, s.URL(first.CID))
	assert.NotContains(t, first.URL, "/ipfs/")
}

func TestLocal_Pin(t *testing.T) {
	s := newLocal(t)
	ctx := context.Background()

	f, err := s.Add(ctx, "a.txt", strings.NewReader("ecg"))
	require.NoError(t, err)

	assert.NoError(t, s.Pin(ctx, f.CID))
	assert.ErrorIs(t, s.Pin(ctx, "deadbeef"), types.ErrNotFound)
}

type countingRecorder struct {
	ops map[string]int
}

func (c *countingRecorder) RecordFileStoreOperation(operation string, success bool) {
	if success {
		c.ops[operation+":ok"]++
	} else {
		c.ops[operation+":fail"]++
	}
}

func TestInstrumented_RecordsOutcome(t *testing.T) {
	rec := &countingRecorder{ops: map[string]int{}}
	s := NewInstrumented(newLocal(t), rec, nil)
	ctx := context.Background()

	f, err := s.Add(ctx, "a", strings.NewReader("x"))
	require.NoError(t, err)
	_, err = s.Cat(ctx, f.CID)
	require.NoError(t, err)
	_, err = s.Cat(ctx, "missing")
	require.Error(t, err)
	require.NoError(t, s.Pin(ctx, f.CID))

	assert.Equal(t, 1, rec.ops["add:ok"])
	assert.Equal(t, 1, rec.ops["cat:ok"])
	assert.Equal(t, 1, rec.ops["cat:fail"])
	assert.Equal(t, 1, rec.ops["pin:ok"])
}

func TestHealthChecker(t *testing.T) {
	s, err := OpenLocalInMemory("http://x")
	require.NoError(t, err)

	check := HealthChecker(s).Check(context.Background())
	assert.Equal(t, monitoring.HealthStatusHealthy, check.Status)

	require.NoError(t, s.Close())
	check = HealthChecker(s).Check(context.Background())
	assert.Equal(t, monitoring.HealthStatusDegraded, check.Status)
}
