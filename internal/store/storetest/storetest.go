// Package storetest holds the behaviour every world state backend must share.
package storetest

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medrex/caseledger/internal/ledger"
	"github.com/medrex/caseledger/pkg/types"
)

// Run exercises st through the raw StateStore contract and through a ledger
func Run(t *testing.T, st ledger.StateStore) {
	ctx := context.Background()

	t.Run("MissingKey", func(t *testing.T) {
		v, err := st.GetState(ctx, "storetest~absent")
		require.NoError(t, err)
		assert.Nil(t, v)
	})

	t.Run("CommitAndOverwrite", func(t *testing.T) {
		require.NoError(t, st.Commit(ctx, []ledger.Write{
			{Key: "storetest~a", Value: []byte(`"one"`)},
			{Key: "storetest~b", Value: []byte(`"two"`)},
		}))

		v, err := st.GetState(ctx, "storetest~a")
		require.NoError(t, err)
		assert.Equal(t, []byte(`"one"`), v)

		require.NoError(t, st.Commit(ctx, []ledger.Write{{Key: "storetest~a", Value: []byte(`"three"`)}}))
		v, err = st.GetState(ctx, "storetest~a")
		require.NoError(t, err)
		assert.Equal(t, []byte(`"three"`), v)

		v, err = st.GetState(ctx, "storetest~b")
		require.NoError(t, err)
		assert.Equal(t, []byte(`"two"`), v)
	})

	t.Run("EmptyCommit", func(t *testing.T) {
		assert.NoError(t, st.Commit(ctx, nil))
	})

	t.Run("LedgerRoundTrip", func(t *testing.T) {
		patient := types.Account("0xstoretest")
		doctor := types.Account("0xstoretestdoc")

		l := ledger.New(st, ledger.Options{})
		require.NoError(t, l.RegisterPatient(ctx, patient, types.PatientRegistration{FullName: "Store Test", Passcode: "2468"}))
		caseID, err := l.CreateCase(ctx, doctor, patient, "2468", "Persistence")
		require.NoError(t, err)
		recordID, err := l.AddRecord(ctx, doctor, caseID, "2468", types.RecordEntry{Symptoms: "none"})
		require.NoError(t, err)

		// a fresh ledger sees only what was committed to the backend
		reopened := ledger.New(st, ledger.Options{})
		c, err := reopened.GetCaseDetails(ctx, caseID)
		require.NoError(t, err)
		assert.Equal(t, patient, c.Patient)
		assert.Equal(t, []uint64{recordID}, c.RecordIDs)

		counter, err := reopened.CaseCounter(ctx)
		require.NoError(t, err)
		assert.Equal(t, caseID, counter)

		_, err = reopened.CreateCase(ctx, doctor, patient, "1357", "Denied")
		assert.ErrorIs(t, err, types.ErrUnauthorized)
		counter, err = reopened.CaseCounter(ctx)
		require.NoError(t, err)
		assert.Equal(t, caseID, counter)
	})

	cs, ok := st.(ledger.ConditionalStore)
	if !ok {
		return
	}

	t.Run("ConditionalCommit", func(t *testing.T) {
		require.NoError(t, st.Commit(ctx, []ledger.Write{{Key: "storetest~cond", Value: []byte(`1`)}}))

		err := cs.CommitIf(ctx,
			[]ledger.Read{{Key: "storetest~cond", Value: []byte(`1`)}, {Key: "storetest~cond-absent"}},
			[]ledger.Write{{Key: "storetest~cond", Value: []byte(`2`)}})
		require.NoError(t, err)

		// the read of 1 is now stale
		err = cs.CommitIf(ctx,
			[]ledger.Read{{Key: "storetest~cond", Value: []byte(`1`)}},
			[]ledger.Write{{Key: "storetest~cond", Value: []byte(`3`)}, {Key: "storetest~cond-other", Value: []byte(`3`)}})
		assert.ErrorIs(t, err, types.ErrConflict)

		// a key read as absent was created since
		err = cs.CommitIf(ctx,
			[]ledger.Read{{Key: "storetest~cond"}},
			[]ledger.Write{{Key: "storetest~cond-other", Value: []byte(`4`)}})
		assert.ErrorIs(t, err, types.ErrConflict)

		v, err := st.GetState(ctx, "storetest~cond")
		require.NoError(t, err)
		assert.Equal(t, []byte(`2`), v)
		v, err = st.GetState(ctx, "storetest~cond-other")
		require.NoError(t, err)
		assert.Nil(t, v, "a rejected commit must write nothing")
	})

	t.Run("LedgersSharingStore", func(t *testing.T) {
		patient := types.Account("0xstoretestshared")
		first := ledger.New(cs, ledger.Options{})
		second := ledger.New(cs, ledger.Options{})
		require.NoError(t, first.RegisterPatient(ctx, patient, types.PatientRegistration{FullName: "Shared", Passcode: "1111"}))

		before, err := first.CaseCounter(ctx)
		require.NoError(t, err)

		const creates = 20
		var (
			wg  sync.WaitGroup
			mu  sync.Mutex
			ids []uint64
		)
		for i := 0; i < creates; i++ {
			l := first
			if i%2 == 1 {
				l = second
			}
			wg.Add(1)
			go func(l *ledger.Ledger) {
				defer wg.Done()
				id, err := l.CreateCase(ctx, patient, patient, "1111", "Shared store")
				if err != nil {
					assert.ErrorIs(t, err, types.ErrConflict)
					return
				}
				mu.Lock()
				ids = append(ids, id)
				mu.Unlock()
			}(l)
		}
		wg.Wait()

		seen := make(map[uint64]bool)
		for _, id := range ids {
			assert.False(t, seen[id], "case id %d handed out twice", id)
			seen[id] = true
		}

		after, err := second.CaseCounter(ctx)
		require.NoError(t, err)
		assert.Equal(t, before+uint64(len(ids)), after)

		caseIDs, err := second.GetCaseIDsForPatient(ctx, patient)
		require.NoError(t, err)
		assert.ElementsMatch(t, ids, caseIDs)
	})
}
