package filestore

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/medrex/caseledger/pkg/encryption"
	"github.com/medrex/caseledger/pkg/types"
)

// Encrypted seals content before handing it to the wrapped store. The CID is that
// of the ciphertext, and every seal draws a fresh nonce, so uploading the same file
// twice yields two CIDs. A gateway would only serve ciphertext; URLs point at
// baseURL, where the service decrypts on the way out.
type Encrypted struct {
	Store
	enc     *encryption.AESEncryption
	baseURL string
}

// NewEncrypted wraps s; files are downloadable under baseURL
func NewEncrypted(s Store, enc *encryption.AESEncryption, baseURL string) *Encrypted {
	return &Encrypted{Store: s, enc: enc, baseURL: strings.TrimRight(baseURL, "/")}
}

// Add encrypts r and stores the result
func (e *Encrypted) Add(ctx context.Context, name string, r io.Reader) (*File, error) {
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, types.NewInternalError("failed to read upload", err)
	}
	sealed, err := e.enc.Encrypt(plaintext)
	if err != nil {
		return nil, types.NewInternalError("failed to encrypt file", err)
	}
	f, err := e.Store.Add(ctx, name, bytes.NewReader(sealed))
	if err != nil {
		return nil, err
	}
	f.Size = int64(len(plaintext))
	f.URL = e.URL(f.CID)
	return f, nil
}

// URL returns the service address that serves the decrypted file
func (e *Encrypted) URL(cid string) string {
	return e.baseURL + "/" + cid
}

// Cat fetches and decrypts
func (e *Encrypted) Cat(ctx context.Context, cid string) ([]byte, error) {
	sealed, err := e.Store.Cat(ctx, cid)
	if err != nil {
		return nil, err
	}
	plaintext, err := e.enc.Decrypt(sealed)
	if err != nil {
		return nil, types.NewInternalError("failed to decrypt file", err)
	}
	return plaintext, nil
}
