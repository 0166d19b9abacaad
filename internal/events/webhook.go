package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
)

var webhookRetries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "gobby_webhook_retries_total",
	Help: "Webhook delivery retries, by endpoint name.",
}, []string{"endpoint"})

// WebhookEndpoint is one configured outbound sink, matching spec.md §4.2's
// webhook() action parameters.
type WebhookEndpoint struct {
	Name       string
	URL        string
	EventTypes []string // empty means every event type
	CanBlock   bool
	RetryCount int
	Headers    map[string]string
	Timeout    time.Duration
}

// VetoDecision is the body a can_block endpoint may return to deny the
// triggering action, surfaced back through the HookDispatcher.
type VetoDecision struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason"`
}

// WebhookDispatcher fans events out to configured HTTP endpoints, retrying
// non-blocking deliveries with the exponential backoff spec.md §4.2 names
// (1s, 2s, 4s) and short-circuiting a chronically failing endpoint behind a
// circuit breaker rather than retrying into a dead host forever.
type WebhookDispatcher struct {
	client   *http.Client
	breakers map[string]*gobreaker.CircuitBreaker
	backoff  []time.Duration
}

// NewWebhookDispatcher builds a dispatcher with one circuit breaker per
// endpoint, opening after 5 consecutive failures and probing again after 30s.
func NewWebhookDispatcher(endpoints []WebhookEndpoint) *WebhookDispatcher {
	d := &WebhookDispatcher{
		client:   &http.Client{},
		breakers: make(map[string]*gobreaker.CircuitBreaker, len(endpoints)),
		backoff:  []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
	}
	for _, ep := range endpoints {
		ep := ep
		d.breakers[ep.Name] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: ep.Name,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			Timeout: 30 * time.Second,
		})
	}
	return d
}

// Dispatch delivers event to every endpoint whose EventTypes allow-list
// matches (or is empty). Non-blocking endpoints fire in their own goroutine
// with bounded retry; can_block endpoints run synchronously and their
// VetoDecision, if any, is returned to the caller (normally the
// HookDispatcher deciding whether to allow the action that raised event).
func (d *WebhookDispatcher) Dispatch(ctx context.Context, endpoints []WebhookEndpoint, event Event) *VetoDecision {
	var veto *VetoDecision
	for _, ep := range endpoints {
		if !matchesAllowList(ep.EventTypes, event.EventType()) {
			continue
		}
		if ep.CanBlock {
			if v := d.deliverBlocking(ctx, ep, event); v != nil {
				veto = v
			}
			continue
		}
		go d.deliverWithRetry(context.Background(), ep, event)
	}
	return veto
}

func matchesAllowList(allow []string, eventType string) bool {
	if len(allow) == 0 {
		return true
	}
	for _, t := range allow {
		if t == eventType {
			return true
		}
	}
	return false
}

func (d *WebhookDispatcher) deliverWithRetry(ctx context.Context, ep WebhookEndpoint, event Event) {
	maxAttempts := ep.RetryCount
	if maxAttempts <= 0 {
		maxAttempts = len(d.backoff)
	}
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if _, err := d.send(ctx, ep, event); err == nil {
			return
		} else {
			lastErr = err
		}
		webhookRetries.WithLabelValues(ep.Name).Inc()
		wait := d.backoff[minInt(attempt, len(d.backoff)-1)]
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
	_ = lastErr // best-effort delivery: exhausted retries are dropped, per spec.md's Non-goals
}

func (d *WebhookDispatcher) deliverBlocking(ctx context.Context, ep WebhookEndpoint, event Event) *VetoDecision {
	reqCtx := ctx
	if ep.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, ep.Timeout)
		defer cancel()
	}
	body, err := d.send(reqCtx, ep, event)
	if err != nil {
		return nil // timeout/error on a blocking webhook resolves to allow, per spec.md §7
	}
	var veto VetoDecision
	if err := json.Unmarshal(body, &veto); err != nil || veto.Decision != "deny" {
		return nil
	}
	return &veto
}

func (d *WebhookDispatcher) send(ctx context.Context, ep WebhookEndpoint, event Event) ([]byte, error) {
	breaker := d.breakers[ep.Name]
	result, err := breaker.Execute(func() (interface{}, error) {
		payload, err := json.Marshal(event)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range ep.Headers {
			req.Header.Set(k, v)
		}
		resp, err := d.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("webhook %s: status %d", ep.Name, resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
