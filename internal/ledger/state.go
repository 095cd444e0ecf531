package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/medrex/caseledger/pkg/types"
)

// StateReader reads committed world state. A nil value with a nil error means the key is absent.
type StateReader interface {
	GetState(ctx context.Context, key string) ([]byte, error)
}

// Write is a single staged key/value write
type Write struct {
	Key   string
	Value []byte
}

// StateStore is the world state backing a ledger. Commit must apply all writes or none.
type StateStore interface {
	StateReader
	Commit(ctx context.Context, writes []Write) error
}

// Read is a key a transaction read from committed state and the value it saw (nil when absent)
type Read struct {
	Key   string
	Value []byte
}

// ConditionalStore is a StateStore that several ledgers may share. CommitIf applies
// writes only while every read still holds and otherwise fails with a Conflict
// error, so ids and back-references stay unique across processes.
type ConditionalStore interface {
	StateStore
	CommitIf(ctx context.Context, reads []Read, writes []Write) error
}

// Event is emitted after a mutation commits
type Event struct {
	Name    string
	Payload map[string]interface{}
}

// EventSink receives committed ledger events
type EventSink interface {
	Publish(ctx context.Context, event Event) error
}

// Observer receives one observation per ledger operation
type Observer interface {
	ObserveLedgerOperation(operation string, kind types.ErrorKind, success bool, seconds float64)
}

// World state keys. Numeric ids are zero padded so keys sort in id order.
const (
	keyCaseCounter   = "meta~counter~case"
	keyRecordCounter = "meta~counter~record"
	keyDoctors       = "directory~doctors"
	keyAdmins        = "directory~admins"
)

func profileKey(account types.Account) string { return "profile~" + string(account) }
func roleKey(account types.Account) string    { return "role~" + string(account) }
func grantsKey(patient types.Account) string  { return "grants~" + string(patient) }
func grantedKey(doctor types.Account) string  { return "granted~" + string(doctor) }
func caseKey(caseID uint64) string            { return fmt.Sprintf("case~%020d", caseID) }
func recordKey(recordID uint64) string        { return fmt.Sprintf("record~%020d", recordID) }
func patientCasesKey(patient types.Account) string {
	return "patientcases~" + string(patient)
}

// txn stages writes over a StateReader so a mutation can read its own writes
// and hand the complete write set to StateStore.Commit in one step. It also
// remembers the first committed value seen for every key it read.
type txn struct {
	ctx       context.Context
	reader    StateReader
	writes    map[string][]byte
	order     []string
	reads     map[string][]byte
	readOrder []string
	events    []Event
}

func newTxn(ctx context.Context, reader StateReader) *txn {
	return &txn{
		ctx:    ctx,
		reader: reader,
		writes: make(map[string][]byte),
		reads:  make(map[string][]byte),
	}
}

func (t *txn) get(key string) ([]byte, error) {
	if v, ok := t.writes[key]; ok {
		return v, nil
	}
	if v, ok := t.reads[key]; ok {
		return v, nil
	}
	v, err := t.reader.GetState(t.ctx, key)
	if err != nil {
		return nil, types.NewInternalError(fmt.Sprintf("failed to read %s from world state", key), err)
	}
	t.reads[key] = v
	t.readOrder = append(t.readOrder, key)
	return v, nil
}

func (t *txn) put(key string, value []byte) {
	if _, ok := t.writes[key]; !ok {
		t.order = append(t.order, key)
	}
	t.writes[key] = value
}

// getJSON decodes key into out and reports whether the key existed
func (t *txn) getJSON(key string, out interface{}) (bool, error) {
	raw, err := t.get(key)
	if err != nil {
		return false, err
	}
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, types.NewInternalError(fmt.Sprintf("failed to decode %s", key), err)
	}
	return true, nil
}

func (t *txn) putJSON(key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return types.NewInternalError(fmt.Sprintf("failed to encode %s", key), err)
	}
	t.put(key, raw)
	return nil
}

func (t *txn) emit(name string, payload map[string]interface{}) {
	t.events = append(t.events, Event{Name: name, Payload: payload})
}

func (t *txn) batch() []Write {
	writes := make([]Write, 0, len(t.order))
	for _, key := range t.order {
		writes = append(writes, Write{Key: key, Value: t.writes[key]})
	}
	return writes
}

func (t *txn) readSet() []Read {
	reads := make([]Read, 0, len(t.readOrder))
	for _, key := range t.readOrder {
		reads = append(reads, Read{Key: key, Value: t.reads[key]})
	}
	return reads
}

// nextID increments the counter at key inside the transaction and returns the new value.
// The first id handed out is 1.
func (t *txn) nextID(key string) (uint64, error) {
	var current uint64
	if _, err := t.getJSON(key, &current); err != nil {
		return 0, err
	}
	current++
	if err := t.putJSON(key, current); err != nil {
		return 0, err
	}
	return current, nil
}

func (t *txn) counter(key string) (uint64, error) {
	var current uint64
	if _, err := t.getJSON(key, &current); err != nil {
		return 0, err
	}
	return current, nil
}

func (t *txn) accountList(key string) ([]types.Account, error) {
	var list []types.Account
	if _, err := t.getJSON(key, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// appendUnique adds account to the list stored at key, preserving insertion order
func (t *txn) appendUnique(key string, account types.Account) (bool, error) {
	list, err := t.accountList(key)
	if err != nil {
		return false, err
	}
	for _, existing := range list {
		if existing == account {
			return false, nil
		}
	}
	list = append(list, account)
	return true, t.putJSON(key, list)
}

func containsAccount(list []types.Account, account types.Account) bool {
	for _, a := range list {
		if a == account {
			return true
		}
	}
	return false
}
