// Package filestore stores report files outside the ledger. The ledger keeps only
// the content identifier returned by Add.
package filestore

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/medrex/caseledger/pkg/config"
	"github.com/medrex/caseledger/pkg/encryption"
	"github.com/medrex/caseledger/pkg/logger"
	"github.com/medrex/caseledger/pkg/monitoring"
)

// File describes stored content
type File struct {
	CID  string `json:"cid"`
	Name string `json:"name"`
	Size int64  `json:"size"`
	URL  string `json:"url"`
}

// Store is a content-addressed blob store
type Store interface {
	Add(ctx context.Context, name string, r io.Reader) (*File, error)
	Cat(ctx context.Context, cid string) ([]byte, error)
	// Pin keeps cid from being garbage collected
	Pin(ctx context.Context, cid string) error
	URL(cid string) string
	Ping(ctx context.Context) error
	Close() error
}

// Recorder receives one sample per store operation
type Recorder interface {
	RecordFileStoreOperation(operation string, success bool)
}

// Open builds the store selected by cfg.Mode, wrapped with encryption when a key is configured.
// publicBaseURL is where the service serves files by CID.
func Open(cfg *config.IPFSConfig, publicBaseURL string, log *logger.Logger) (Store, error) {
	var s Store
	switch cfg.Mode {
	case "ipfs":
		s = NewIPFSClient(cfg.APIURL, cfg.GatewayURL, cfg.Pin, time.Duration(cfg.Timeout)*time.Second, log)
	case "local":
		local, err := OpenLocal(cfg.LocalPath, publicBaseURL)
		if err != nil {
			return nil, err
		}
		s = local
	default:
		return nil, fmt.Errorf("unknown file store mode: %q", cfg.Mode)
	}

	if cfg.EncryptionKey != "" {
		enc, err := encryption.NewAESEncryption(cfg.EncryptionKey)
		if err != nil {
			s.Close()
			return nil, err
		}
		s = NewEncrypted(s, enc, publicBaseURL)
	}
	return s, nil
}

// HealthChecker reports file store reachability
func HealthChecker(s Store) monitoring.HealthChecker {
	return monitoring.NewCustomHealthChecker(func(ctx context.Context) monitoring.HealthCheck {
		if err := s.Ping(ctx); err != nil {
			return monitoring.HealthCheck{
				// reports cannot be uploaded but the ledger still works
				Status:  monitoring.HealthStatusDegraded,
				Message: fmt.Sprintf("file store unreachable: %v", err),
			}
		}
		return monitoring.HealthCheck{Status: monitoring.HealthStatusHealthy, Message: "file store healthy"}
	})
}

// Instrumented records metrics, and spans when tracing is enabled, around every
// call of the wrapped store. Either recorder or tracing may be nil.
type Instrumented struct {
	Store
	recorder Recorder
	tracing  *monitoring.TracingManager
}

// NewInstrumented wraps s
func NewInstrumented(s Store, recorder Recorder, tracing *monitoring.TracingManager) *Instrumented {
	return &Instrumented{Store: s, recorder: recorder, tracing: tracing}
}

// Add stores content
func (i *Instrumented) Add(ctx context.Context, name string, r io.Reader) (*File, error) {
	var f *File
	err := i.instrument(ctx, "add", func(ctx context.Context) error {
		var err error
		f, err = i.Store.Add(ctx, name, r)
		return err
	})
	return f, err
}

// Cat reads content
func (i *Instrumented) Cat(ctx context.Context, cid string) ([]byte, error) {
	var b []byte
	err := i.instrument(ctx, "cat", func(ctx context.Context) error {
		var err error
		b, err = i.Store.Cat(ctx, cid)
		return err
	})
	return b, err
}

// Pin pins content
func (i *Instrumented) Pin(ctx context.Context, cid string) error {
	return i.instrument(ctx, "pin", func(ctx context.Context) error {
		return i.Store.Pin(ctx, cid)
	})
}

func (i *Instrumented) instrument(ctx context.Context, operation string, call func(ctx context.Context) error) error {
	var err error
	if i.tracing != nil {
		spanCtx, span := i.tracing.StartFileStoreSpan(ctx, operation)
		err = call(spanCtx)
		if err != nil {
			i.tracing.RecordError(span, err)
		}
		span.End()
	} else {
		err = call(ctx)
	}

	if i.recorder != nil {
		i.recorder.RecordFileStoreOperation(operation, err == nil)
	}
	return err
}
