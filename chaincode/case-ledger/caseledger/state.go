package caseledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hyperledger/fabric-chaincode-go/shim"

	"github.com/medrex/caseledger/internal/ledger"
)

// worldState adapts the chaincode stub to ledger.StateStore. The peer discards
// the write set of a failed transaction, so Commit needs no rollback.
type worldState struct {
	stub shim.ChaincodeStubInterface
}

func (w worldState) GetState(_ context.Context, key string) ([]byte, error) {
	return w.stub.GetState(key)
}

func (w worldState) Commit(_ context.Context, writes []ledger.Write) error {
	for _, write := range writes {
		if err := w.stub.PutState(write.Key, write.Value); err != nil {
			return fmt.Errorf("failed to put state %s: %w", write.Key, err)
		}
	}
	return nil
}

// stubEvents forwards ledger events to the transaction. Fabric keeps one event
// per transaction and every mutation emits at most one.
type stubEvents struct {
	stub shim.ChaincodeStubInterface
}

func (e stubEvents) Publish(_ context.Context, event ledger.Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return err
	}
	return e.stub.SetEvent(event.Name, payload)
}

// txClock returns the proposal timestamp so every endorser computes the same state
func txClock(stub shim.ChaincodeStubInterface) func() time.Time {
	return func() time.Time {
		ts, err := stub.GetTxTimestamp()
		if err != nil || ts == nil {
			return time.Unix(0, 0).UTC()
		}
		return ts.AsTime().UTC()
	}
}
