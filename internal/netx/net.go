// Package netx provides the shared HTTP plumbing for the directory and file
// service clients: JSON GET/POST with bounded exponential-backoff retries.
//
// Only transient failures are retried: connection errors and 5xx responses.
// 4xx responses are terminal; a 404 maps to common.ErrNotFound so callers
// can distinguish "peer unknown" from "service down".
package netx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dovelchat/msgcache/internal/common"
)

const (
	maxRetries     = 3
	initialBackoff = 200 * time.Millisecond
)

func backoff() retry.Backoff {
	return retry.WithMaxRetries(maxRetries, retry.NewExponential(initialBackoff))
}

// GetJSON performs an authenticated GET and decodes the JSON response into out.
func GetJSON(ctx context.Context, client *http.Client, url, token string, out any) error {
	return doJSON(ctx, client, http.MethodGet, url, token, nil, out)
}

// PostJSON performs an authenticated POST with a JSON body and decodes the
// JSON response into out. out may be nil when the response body is irrelevant.
func PostJSON(ctx context.Context, client *http.Client, url, token string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return doJSON(ctx, client, http.MethodPost, url, token, body, out)
}

// GetRaw performs a plain GET (no auth header) and returns the response body.
// Used for downloading from signed URLs, which carry auth in the URL itself.
func GetRaw(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	var data []byte
	err := retry.Do(ctx, backoff(), func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		if err := checkStatus(resp); err != nil {
			return err
		}
		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	return data, err
}

func doJSON(ctx context.Context, client *http.Client, method, url, token string, body []byte, out any) error {
	return retry.Do(ctx, backoff(), func(ctx context.Context) error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if token != "" {
			req.Header.Set(common.AuthHeaderName, "Bearer "+token)
		}

		resp, err := client.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		if err := checkStatus(resp); err != nil {
			return err
		}
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})
}

func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", resp.Request.URL.Path, common.ErrNotFound)
	case resp.StatusCode >= 500:
		return retry.RetryableError(fmt.Errorf("server error: %s", resp.Status))
	default:
		return fmt.Errorf("request failed: %s", resp.Status)
	}
}
