// Package httpremote implements syncclient.Remote over plain net/http,
// speaking the wire contract syncserver.HTTPHandlers exposes. The
// teacher's transport is a Go-in-process client library, not an HTTP
// client; this package borrows its REST model shapes (request/response
// JSON structs, bearer-token auth header) while filling in the actual
// HTTP round trip.
package httpremote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/driftsync/driftsync/syncclient"
	"github.com/driftsync/driftsync/syncmodel"
)

// Remote is an HTTP-backed syncclient.Remote.
type Remote struct {
	baseURL string
	token   string
	client  *http.Client
}

// New constructs a Remote pointed at a driftsyncd server, authenticating
// every request with token as a bearer credential.
func New(baseURL, token string) *Remote {
	return &Remote{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type pushRequest struct {
	Operations []syncmodel.Operation `json:"operations"`
}

// Push implements syncclient.Remote.
func (r *Remote) Push(ctx context.Context, operations []syncmodel.Operation) (syncmodel.PushResult, error) {
	body, err := json.Marshal(pushRequest{Operations: operations})
	if err != nil {
		return syncmodel.PushResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/sync/push", bytes.NewReader(body))
	if err != nil {
		return syncmodel.PushResult{}, err
	}
	r.setHeaders(req)

	resp, err := r.client.Do(req)
	if err != nil {
		return syncmodel.PushResult{}, fmt.Errorf("push request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return syncmodel.PushResult{}, fmt.Errorf("push failed: %s", resp.Status)
	}

	var result syncmodel.PushResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return syncmodel.PushResult{}, fmt.Errorf("decode push response: %w", err)
	}
	return result, nil
}

type pullResponse struct {
	Operations []syncmodel.Operation `json:"operations"`
}

// Pull implements syncclient.Remote.
func (r *Remote) Pull(ctx context.Context, since time.Time, clientID string) ([]syncmodel.Operation, error) {
	q := url.Values{}
	if !since.IsZero() {
		q.Set("since", since.Format(time.RFC3339Nano))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/sync/pull?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	r.setHeaders(req)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pull request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pull failed: %s", resp.Status)
	}

	var out pullResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode pull response: %w", err)
	}
	return out.Operations, nil
}

// Resolve implements syncclient.Remote; driftsyncd has no manual
// resolution endpoint, so this always signals unsupported.
func (r *Remote) Resolve(ctx context.Context, conflict syncmodel.Conflict) (syncmodel.Operation, error) {
	return syncmodel.Operation{}, syncclient.ErrResolveUnsupported
}

func (r *Remote) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.token)
}
