package filestore

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/medrex/caseledger/pkg/logger"
	"github.com/medrex/caseledger/pkg/types"
)

// IPFSClient talks to the HTTP RPC API of an IPFS node (every RPC endpoint is POST).
// Requests are not retried since uploads stream their body once.
type IPFSClient struct {
	http       *resty.Client
	gatewayURL string
	pin        bool
	logger     *logger.Logger
}

type addResponse struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Size string `json:"Size"`
}

type pinResponse struct {
	Pins []string `json:"Pins"`
}

type versionResponse struct {
	Version string `json:"Version"`
	Commit  string `json:"Commit"`
}

type ipfsError struct {
	Message string `json:"Message"`
	Code    int    `json:"Code"`
}

// NewIPFSClient creates a client for the node at apiURL
func NewIPFSClient(apiURL, gatewayURL string, pin bool, timeout time.Duration, log *logger.Logger) *IPFSClient {
	client := resty.New().
		SetBaseURL(strings.TrimRight(apiURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &IPFSClient{
		http:       client,
		gatewayURL: strings.TrimRight(gatewayURL, "/"),
		pin:        pin,
		logger:     log,
	}
}

// Add uploads r and returns its CID
func (c *IPFSClient) Add(ctx context.Context, name string, r io.Reader) (*File, error) {
	var result addResponse
	var apiErr ipfsError
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("pin", strconv.FormatBool(c.pin)).
		SetQueryParam("cid-version", "1").
		SetFileReader("file", name, r).
		SetResult(&result).
		SetError(&apiErr).
		Post("/api/v0/add")
	if err != nil {
		c.logger.WithError(err).Error("IPFS add failed")
		return nil, types.NewInternalError("failed to upload file", err)
	}
	if resp.IsError() {
		return nil, c.apiError("add", resp, apiErr)
	}

	size, _ := strconv.ParseInt(result.Size, 10, 64)
	c.logger.WithFields(map[string]interface{}{
		"cid":  result.Hash,
		"name": name,
		"size": size,
	}).Info("File added to IPFS")

	return &File{CID: result.Hash, Name: name, Size: size, URL: c.URL(result.Hash)}, nil
}

// Cat downloads the content behind cid
func (c *IPFSClient) Cat(ctx context.Context, cid string) ([]byte, error) {
	var apiErr ipfsError
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("arg", cid).
		SetError(&apiErr).
		Post("/api/v0/cat")
	if err != nil {
		return nil, types.NewInternalError("failed to fetch file", err)
	}
	if resp.IsError() {
		return nil, c.apiError("cat", resp, apiErr)
	}
	return resp.Body(), nil
}

// Pin pins cid on the node so garbage collection keeps it. It does nothing
// when the client was created with pinning disabled.
func (c *IPFSClient) Pin(ctx context.Context, cid string) error {
	if !c.pin {
		return nil
	}
	var result pinResponse
	var apiErr ipfsError
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("arg", cid).
		SetResult(&result).
		SetError(&apiErr).
		Post("/api/v0/pin/add")
	if err != nil {
		return types.NewInternalError("failed to pin file", err)
	}
	if resp.IsError() {
		return c.apiError("pin", resp, apiErr)
	}
	return nil
}

// Version returns the node version string
func (c *IPFSClient) Version(ctx context.Context) (string, error) {
	var result versionResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Post("/api/v0/version")
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", fmt.Errorf("ipfs version returned %d", resp.StatusCode())
	}
	return result.Version, nil
}

// URL returns the gateway address for cid
func (c *IPFSClient) URL(cid string) string {
	return c.gatewayURL + "/" + cid
}

// Ping checks the node answers the version call
func (c *IPFSClient) Ping(ctx context.Context) error {
	_, err := c.Version(ctx)
	return err
}

// Close is a no-op; the HTTP client holds no resources worth releasing
func (c *IPFSClient) Close() error {
	return nil
}

func (c *IPFSClient) apiError(op string, resp *resty.Response, apiErr ipfsError) error {
	msg := apiErr.Message
	if msg == "" {
		msg = strings.TrimSpace(string(resp.Body()))
	}
	c.logger.WithFields(map[string]interface{}{
		"operation":   op,
		"status_code": resp.StatusCode(),
		"message":     msg,
	}).Warn("IPFS API returned error")

	if op == "cat" && strings.Contains(msg, "not found") {
		return types.NewNotFoundError("file not found", map[string]interface{}{"message": msg})
	}
	return types.NewInternalError(fmt.Sprintf("ipfs %s failed: %s", op, msg), nil)
}
