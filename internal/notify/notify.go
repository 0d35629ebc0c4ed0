// Package notify delivers build-completion notifications to the targets
// declared in the pipeline file.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/rdmontgomery/exa/internal/schema"
	"github.com/rdmontgomery/exa/pkg/core"
)

// Notifier posts build outcomes to notification targets.
type Notifier struct {
	http   *http.Client
	logger *slog.Logger
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(n *Notifier) { n.http = hc }
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Notifier) { n.logger = logger }
}

// New creates a Notifier.
func New(opts ...Option) *Notifier {
	n := &Notifier{
		http: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.logger == nil {
		n.logger = slog.New(slog.DiscardHandler)
	}
	return n
}

// payload is the JSON body posted to webhook targets.
type payload struct {
	Event string      `json:"event"`
	Build *core.Build `json:"build"`
}

// BuildCompleted notifies every configured target about a finished
// build. Success and failure notifications are gated per target;
// cancelled and skipped builds notify nobody. Delivery errors are
// aggregated so one dead webhook does not silence the rest.
func (n *Notifier) BuildCompleted(ctx context.Context, targets []schema.Notification, build *core.Build) error {
	var wanted bool
	switch build.Status {
	case core.BuildStatusSuccess, core.BuildStatusFailed:
		wanted = true
	}
	if !wanted {
		return nil
	}

	var errs []error
	for i, target := range targets {
		if build.Status == core.BuildStatusSuccess && !target.NotifyOnSuccess() {
			continue
		}
		if build.Status == core.BuildStatusFailed && !target.NotifyOnFailure() {
			continue
		}

		switch target.Provider {
		case "webhook", "Webhook":
			if err := n.postWebhook(ctx, target.URL, build); err != nil {
				n.logger.Error("webhook notification failed", "url", target.URL, "error", err)
				errs = append(errs, fmt.Errorf("notifications[%d]: %w", i, err))
			}
		default:
			n.logger.Warn("skipping notification with unknown provider", "provider", target.Provider)
		}
	}
	return errors.Join(errs...)
}

func (n *Notifier) postWebhook(ctx context.Context, url string, build *core.Build) error {
	body, err := json.Marshal(payload{Event: "build_completed", Build: build})
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}

	n.logger.Debug("webhook notification delivered", "url", url, "status", build.Status)
	return nil
}
