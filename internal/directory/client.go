// Package directory implements the client for the key directory service:
// the backend endpoint that stores each user's key material and serves it
// to peers that need to decrypt that user's messages.
package directory

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/dovelchat/msgcache/internal/auth"
	"github.com/dovelchat/msgcache/internal/common"
	"github.com/dovelchat/msgcache/internal/netx"
)

// Client talks to the directory REST API:
//
//	GET  /keys/{userId}   -> { "publicKey": <base64> }
//	POST /keys/upload     <- { "publicKey": <base64> } -> { "success": bool }
type Client struct {
	baseURL string
	http    *http.Client
	tokens  auth.TokenProvider
}

func NewClient(baseURL string, tokens auth.TokenProvider) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		tokens:  tokens,
	}
}

type keyResponse struct {
	PublicKey string `json:"publicKey"`
}

type uploadRequest struct {
	PublicKey string `json:"publicKey"`
}

type uploadResponse struct {
	Success bool `json:"success"`
}

// FetchKey returns the key material the directory holds for userID.
//
// An unreachable directory, an unknown user and malformed key material all
// wrap common.ErrKeyFetch: callers must treat any of them as "cannot decrypt
// yet" and may retry.
func (c *Client) FetchKey(ctx context.Context, userID string) ([]byte, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve token: %w", err)
	}

	var resp keyResponse
	u := c.baseURL + "/keys/" + url.PathEscape(userID)
	if err := netx.GetJSON(ctx, c.http, u, token, &resp); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, fmt.Errorf("no key for user %s: %w", userID, common.ErrKeyFetch)
		}
		return nil, fmt.Errorf("directory unreachable: %w: %w", common.ErrKeyFetch, err)
	}
	if resp.PublicKey == "" {
		return nil, fmt.Errorf("empty key for user %s: %w", userID, common.ErrKeyFetch)
	}

	material, err := base64.StdEncoding.DecodeString(resp.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("decode key for user %s: %w", userID, common.ErrInvalidKeyMaterial)
	}
	return material, nil
}

// PublishKey uploads this device's key material so peers can fetch it.
func (c *Client) PublishKey(ctx context.Context, material []byte) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("resolve token: %w", err)
	}

	req := uploadRequest{PublicKey: base64.StdEncoding.EncodeToString(material)}
	var resp uploadResponse
	if err := netx.PostJSON(ctx, c.http, c.baseURL+"/keys/upload", token, req, &resp); err != nil {
		return fmt.Errorf("upload key: %w", err)
	}
	if !resp.Success {
		return errors.New("directory rejected key upload")
	}
	return nil
}
