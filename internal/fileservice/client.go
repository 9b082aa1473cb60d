// Package fileservice implements the client for the attachment file service:
//
//	GET /files/download/{fileId}   -> { "encryptedData": <base64>, "file_type": string }
//	GET /files/signed-url/{fileId} -> { "signedUrl": string }
//
// Small files come back inline as base64; larger ones are fetched through a
// short-lived signed URL which carries its own authorization.
package fileservice

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/dovelchat/msgcache/internal/auth"
	"github.com/dovelchat/msgcache/internal/netx"
)

type Client struct {
	baseURL string
	http    *http.Client
	tokens  auth.TokenProvider
}

func NewClient(baseURL string, tokens auth.TokenProvider) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 60 * time.Second},
		tokens:  tokens,
	}
}

type downloadResponse struct {
	EncryptedData string `json:"encryptedData"`
	FileType      string `json:"file_type"`
}

type signedURLResponse struct {
	SignedURL string `json:"signedUrl"`
}

// Download fetches the encrypted bytes of a stored file plus its declared
// type. The returned data is ciphertext; decryption is the caller's job.
func (c *Client) Download(ctx context.Context, fileID string) ([]byte, string, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("resolve token: %w", err)
	}

	var resp downloadResponse
	u := c.baseURL + "/files/download/" + url.PathEscape(fileID)
	if err := netx.GetJSON(ctx, c.http, u, token, &resp); err != nil {
		return nil, "", fmt.Errorf("download %s: %w", fileID, err)
	}

	data, err := base64.StdEncoding.DecodeString(resp.EncryptedData)
	if err != nil {
		return nil, "", fmt.Errorf("decode %s: %w", fileID, err)
	}
	return data, resp.FileType, nil
}

// SignedURL asks the service for a short-lived direct-download URL.
func (c *Client) SignedURL(ctx context.Context, fileID string) (string, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve token: %w", err)
	}

	var resp signedURLResponse
	u := c.baseURL + "/files/signed-url/" + url.PathEscape(fileID)
	if err := netx.GetJSON(ctx, c.http, u, token, &resp); err != nil {
		return "", fmt.Errorf("signed url for %s: %w", fileID, err)
	}
	if resp.SignedURL == "" {
		return "", fmt.Errorf("empty signed url for %s", fileID)
	}
	return resp.SignedURL, nil
}

// DownloadSigned fetches raw bytes from a signed URL. No auth header is
// attached: the URL itself is the credential.
func (c *Client) DownloadSigned(ctx context.Context, signedURL string) ([]byte, error) {
	data, err := netx.GetRaw(ctx, c.http, signedURL)
	if err != nil {
		return nil, fmt.Errorf("download signed url: %w", err)
	}
	return data, nil
}
