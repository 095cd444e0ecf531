package leveldb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medrex/caseledger/internal/ledger"
	"github.com/medrex/caseledger/internal/store/storetest"
)

func TestStore(t *testing.T) {
	s, err := OpenInMemory()
	require.NoError(t, err)
	defer s.Close()

	storetest.Run(t, s)
	assert.NoError(t, s.Ping(context.Background()))
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Commit(ctx, []ledger.Write{{Key: "case~1", Value: []byte(`{"caseId":1}`)}}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	v, err := s.GetState(ctx, "case~1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"caseId":1}`, string(v))
}

func TestStore_ClosedPingFails(t *testing.T) {
	s, err := OpenInMemory()
	require.NoError(t, err)
	require.NoError(t, s.Close())

	assert.Error(t, s.Ping(context.Background()))
}
