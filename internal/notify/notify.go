// Package notify posts progress and results to an optional callback URL so
// a control plane can watch a compression without polling the worker.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-retryablehttp"

	"vidcompact/pkg/models"
)

// Notifier ships ProgressPayload updates on a ticker and a final
// ResultPayload once. Progress hand-off is a latest-value mailbox: a slow
// control plane drops intermediate updates instead of blocking the
// pipeline.
type Notifier struct {
	baseURL    string
	sessionID  string
	interval   time.Duration
	httpClient *http.Client
	log        hclog.Logger

	mu     sync.Mutex
	latest models.ProgressPayload
	dirty  bool
}

// New creates a notifier with a retrying HTTP client.
func New(baseURL, sessionID string, interval time.Duration, log hclog.Logger) *Notifier {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.Logger = nil // silence default debug logger

	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Notifier{
		baseURL:    baseURL,
		sessionID:  sessionID,
		interval:   interval,
		httpClient: retryClient.StandardClient(),
		log:        log.Named("notify"),
	}
}

// Observe records the newest progress value. Cheap and non-blocking; called
// from the session's progress callback.
func (n *Notifier) Observe(state models.SessionState, frac float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.latest = models.ProgressPayload{
		SessionID: n.sessionID,
		State:     state,
		Progress:  frac,
		UpdatedAt: time.Now(),
	}
	n.dirty = true
}

// Start launches the posting loop; it stops when ctx is cancelled.
func (n *Notifier) Start(ctx context.Context) {
	ticker := time.NewTicker(n.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n.flush(ctx)
			}
		}
	}()
}

func (n *Notifier) flush(ctx context.Context) {
	n.mu.Lock()
	if !n.dirty {
		n.mu.Unlock()
		return
	}
	payload := n.latest
	n.dirty = false
	n.mu.Unlock()

	if err := n.post(ctx, http.MethodPatch, "/progress", payload); err != nil {
		n.log.Debug("progress post failed", "error", err)
	}
}

// Result posts the terminal outcome. Called exactly once per session.
func (n *Notifier) Result(ctx context.Context, payload models.ResultPayload) {
	if err := n.post(ctx, http.MethodPost, "/result", payload); err != nil {
		n.log.Warn("result post failed", "error", err)
	}
}

func (n *Notifier) post(ctx context.Context, method, path string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, n.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Session-ID", n.sessionID)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("callback returned status %d", resp.StatusCode)
	}
	return nil
}
