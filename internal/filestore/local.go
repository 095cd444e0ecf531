package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/medrex/caseledger/pkg/encryption"
	"github.com/medrex/caseledger/pkg/types"
)

const blobPrefix = "blob~"

// Local keeps files in an embedded LevelDB, addressed by the hex SHA-256 of their content
type Local struct {
	db      *leveldb.DB
	baseURL string
}

// OpenLocal opens the blob database at path. Files are served under baseURL.
func OpenLocal(path, baseURL string) (*Local, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open local file store at %s: %w", path, err)
	}
	return &Local{db: db, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// OpenLocalInMemory opens a volatile blob store
func OpenLocalInMemory(baseURL string) (*Local, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory file store: %w", err)
	}
	return &Local{db: db, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Add stores content; identical content yields the same CID
func (l *Local) Add(ctx context.Context, name string, r io.Reader) (*File, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, types.NewInternalError("failed to read upload", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cid := encryption.HashData(data)
	if err := l.db.Put([]byte(blobPrefix+cid), data, &opt.WriteOptions{Sync: true}); err != nil {
		return nil, types.NewInternalError("failed to store file", err)
	}
	return &File{CID: cid, Name: name, Size: int64(len(data)), URL: l.URL(cid)}, nil
}

// Cat returns the content stored under cid
func (l *Local) Cat(_ context.Context, cid string) ([]byte, error) {
	data, err := l.db.Get([]byte(blobPrefix+cid), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, types.NewNotFoundError("file not found", map[string]interface{}{"cid": cid})
	}
	if err != nil {
		return nil, types.NewInternalError("failed to read file", err)
	}
	return data, nil
}

// Pin confirms cid is stored; local content is never collected
func (l *Local) Pin(_ context.Context, cid string) error {
	ok, err := l.db.Has([]byte(blobPrefix+cid), nil)
	if err != nil {
		return types.NewInternalError("failed to read file", err)
	}
	if !ok {
		return types.NewNotFoundError("file not found", map[string]interface{}{"cid": cid})
	}
	return nil
}

// URL returns the service address the file is downloadable from
func (l *Local) URL(cid string) string {
	return l.baseURL + "/" + cid
}

// Ping reports whether the database is open
func (l *Local) Ping(context.Context) error {
	_, err := l.db.GetProperty("leveldb.stats")
	return err
}

// Close closes the database
func (l *Local) Close() error {
	return l.db.Close()
}
