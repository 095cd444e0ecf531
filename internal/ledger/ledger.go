// Package ledger implements the access-controlled medical case/record ledger.
//
// All mutations go through a single serialization point and commit their
// staged writes to the StateStore in one call, so a failed operation never
// leaves partial state behind. Stores shared between processes implement
// ConditionalStore and reject commits whose reads went stale. Write authorization is proof of knowledge of
// the patient's passcode; doctor grants drive discovery and read access.
package ledger

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/medrex/caseledger/pkg/logger"
	"github.com/medrex/caseledger/pkg/types"
)

const (
	tracerName = "github.com/medrex/caseledger/internal/ledger"

	maxCommitAttempts = 16
)

// Options configures a Ledger
type Options struct {
	// RequireDoctorGrant additionally restricts addRecord/addReport authors to the
	// patient of record or a doctor the patient granted access to.
	RequireDoctorGrant bool

	// Clock supplies timestamps. Defaults to time.Now in UTC.
	Clock func() time.Time

	Events   EventSink
	Observer Observer
	Logger   *logger.Logger
}

// Ledger is the public operation surface over the registry, case store and record store
type Ledger struct {
	mu    sync.RWMutex
	store StateStore
	opts  Options
	log   *logger.Logger
}

// New creates a ledger over store
func New(store StateStore, opts Options) *Ledger {
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Ledger{
		store: store,
		opts:  opts,
		log:   log,
	}
}

// mutate runs fn as one serialized, all-or-nothing transaction. Over a
// ConditionalStore a commit that lost a race with another writer reruns fn on
// fresh state, up to maxCommitAttempts times.
func (l *Ledger) mutate(ctx context.Context, operation string, caller types.Account, fn func(tx *txn) (map[string]interface{}, error)) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "ledger."+operation)
	defer span.End()
	span.SetAttributes(attribute.String("ledger.caller", string(caller)))

	start := time.Now()

	var (
		tx      *txn
		details map[string]interface{}
		err     error
	)
	for attempt := 1; ; attempt++ {
		l.mu.Lock()
		tx = newTxn(ctx, l.store)
		details, err = fn(tx)
		if err == nil {
			err = ctx.Err()
		}
		if err == nil {
			err = l.commit(ctx, tx)
		}
		l.mu.Unlock()

		if !errors.Is(err, types.ErrConflict) || attempt == maxCommitAttempts {
			break
		}
		l.log.WithContext(ctx).WithField("operation", operation).WithField("attempt", attempt).Debug("Commit conflict, retrying")
		if waitErr := conflictBackoff(ctx, attempt); waitErr != nil {
			err = waitErr
			break
		}
	}
	span.SetAttributes(attribute.Int("ledger.reads", len(tx.readOrder)), attribute.Int("ledger.writes", len(tx.order)))

	elapsed := time.Since(start)
	l.observe(operation, err, elapsed)
	if details == nil {
		details = map[string]interface{}{}
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		details["error_kind"] = string(types.KindOf(err))
		details["error"] = err.Error()
		l.log.Audit(ctx, string(caller), operation, "ledger", false, details)
		l.log.LedgerTransaction(ctx, operation, false, elapsed.Milliseconds(), details)
		return err
	}

	l.log.Audit(ctx, string(caller), operation, "ledger", true, details)
	l.log.LedgerTransaction(ctx, operation, true, elapsed.Milliseconds(), details)

	if l.opts.Events != nil {
		for _, event := range tx.events {
			if pubErr := l.opts.Events.Publish(ctx, event); pubErr != nil {
				// The mutation is already committed; a lost notification is not a ledger failure.
				l.log.WithContext(ctx).WithError(pubErr).WithField("event", event.Name).Warn("Failed to publish ledger event")
			}
		}
	}
	return nil
}

func (l *Ledger) commit(ctx context.Context, tx *txn) error {
	var err error
	if cs, ok := l.store.(ConditionalStore); ok {
		err = cs.CommitIf(ctx, tx.readSet(), tx.batch())
	} else {
		err = l.store.Commit(ctx, tx.batch())
	}
	if err == nil || errors.Is(err, types.ErrConflict) {
		return err
	}
	return types.NewInternalError("failed to commit transaction", err)
}

// conflictBackoff waits a jittered interval that grows with attempt
func conflictBackoff(ctx context.Context, attempt int) error {
	wait := time.Duration(rand.Int63n(int64(attempt)*int64(time.Millisecond))) + time.Millisecond
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// read runs fn against committed state under the read lock
func (l *Ledger) read(ctx context.Context, operation string, fn func(tx *txn) error) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "ledger."+operation)
	defer span.End()

	start := time.Now()
	l.mu.RLock()
	err := fn(newTxn(ctx, l.store))
	l.mu.RUnlock()

	l.observe(operation, err, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (l *Ledger) observe(operation string, err error, elapsed time.Duration) {
	if l.opts.Observer == nil {
		return
	}
	kind := types.ErrorKind("")
	if err != nil {
		kind = types.KindOf(err)
	}
	l.opts.Observer.ObserveLedgerOperation(operation, kind, err == nil, elapsed.Seconds())
}

func (l *Ledger) now() time.Time {
	return l.opts.Clock()
}

// requireCaller rejects an empty signer identity
func requireCaller(caller types.Account) error {
	if strings.TrimSpace(string(caller)) == "" {
		return types.NewUnauthenticatedError("caller account is required", nil)
	}
	return nil
}

func requireAccount(field string, account types.Account) error {
	if strings.TrimSpace(string(account)) == "" {
		return types.NewInvalidArgumentError(field, field+" is required")
	}
	return nil
}

// canRead reports whether caller may read the cases of patient
func canRead(tx *txn, caller, patient types.Account) (bool, error) {
	if caller == patient {
		return true, nil
	}
	role, err := loadRole(tx, caller)
	if err != nil {
		return false, err
	}
	if role == types.RoleAdmin {
		return true, nil
	}
	return hasGrant(tx, patient, caller)
}
