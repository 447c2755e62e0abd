// Package proofs uploads completion evidence to a content-addressed store and
// turns the returned multihash into a value the token contract can hold.
package proofs

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/btcsuite/btcutil/base58"
)

// Client talks to an IPFS-compatible add endpoint. A disabled client returns
// empty hashes, so proof storage degrades cleanly when no store is deployed.
type Client struct {
	addURL  string
	enabled bool
	http    *http.Client
}

func NewClient(addURL string, enabled bool) *Client {
	return &Client{
		addURL:  strings.TrimSpace(addURL),
		enabled: enabled && strings.TrimSpace(addURL) != "",
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) Enabled() bool { return c.enabled }

// Upload stores the file bytes and returns the contract-storable hex form of
// the content hash.
func (c *Client) Upload(ctx context.Context, filename string, data []byte) (string, error) {
	if !c.enabled {
		return "", nil
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("image", filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.addURL+"?hash=sha2-256", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("proofs: upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("proofs: upload: status=%d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("proofs: upload: %w", err)
	}
	var payload struct {
		Hash string `json:"Hash"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("proofs: decode add response: %w", err)
	}
	return DecodeHash(payload.Hash)
}

// DecodeHash turns a base58 multihash into the hex word stored on chain. The
// first two bytes name the hash function and digest length; the contract only
// keeps the digest itself.
func DecodeHash(multihash string) (string, error) {
	trimmed := strings.TrimSpace(multihash)
	if trimmed == "" {
		return "", nil
	}
	decoded := base58.Decode(trimmed)
	if len(decoded) <= 2 {
		return "", fmt.Errorf("proofs: invalid multihash %q", multihash)
	}
	return "0x" + hex.EncodeToString(decoded[2:]), nil
}
