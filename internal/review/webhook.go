package review

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/product-patterns/internal/iterate"
	"github.com/sells-group/product-patterns/internal/resilience"
)

const defaultWebhookTimeout = 10 * time.Second

// Webhook posts JSON payloads to a review queue.
type Webhook struct {
	url    string
	client *http.Client
	retry  resilience.RetryConfig
}

// NewWebhook creates a Webhook. timeout <= 0 uses 10s.
func NewWebhook(url string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("review", "webhook")
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: timeout},
		retry:  retry,
	}
}

// Post sends payload. Any non-2xx response is an error; 5xx and 429 are
// retried.
func (w *Webhook) Post(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "review: marshal payload")
	}

	return resilience.Do(ctx, w.retry, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return eris.Wrap(err, "review: create webhook request")
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.client.Do(req)
		if err != nil {
			return eris.Wrap(err, "review: webhook request")
		}
		defer resp.Body.Close() //nolint:errcheck
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return resilience.StatusError("review: webhook", resp.StatusCode)
		}
		return nil
	})
}

// Submitter hands exhausted outcomes to reviewers. It writes the markdown
// report to OutDir, posts the payload to the webhook and files it in the
// Notion review database. Any of them may be unset.
type Submitter struct {
	Webhook *Webhook
	Notion  *NotionSink
	OutDir  string
}

// Submit delivers one outcome. Every configured sink is attempted; the
// first error is returned.
func (s *Submitter) Submit(ctx context.Context, o *iterate.Outcome, url string) error {
	payload := NewPayload(o, url)
	var firstErr error

	if s.OutDir != "" {
		if err := s.write(payload); err != nil {
			firstErr = err
		}
	}
	if s.Webhook != nil {
		if err := s.Webhook.Post(ctx, payload); err != nil {
			zap.L().Warn("review: webhook failed",
				zap.String("domain", payload.Domain),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if s.Notion != nil {
		if _, err := s.Notion.File(ctx, payload); err != nil {
			zap.L().Warn("review: notion filing failed",
				zap.String("domain", payload.Domain),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *Submitter) write(p Payload) error {
	if err := os.MkdirAll(s.OutDir, 0o755); err != nil {
		return eris.Wrapf(err, "review: create %s", s.OutDir)
	}
	name := fileName(p)
	path := filepath.Join(s.OutDir, name)
	if err := os.WriteFile(path, []byte(p.Report), 0o644); err != nil {
		return eris.Wrapf(err, "review: write %s", path)
	}
	zap.L().Info("review: report written", zap.String("path", path))
	return nil
}

func fileName(p Payload) string {
	domain := p.Domain
	if domain == "" {
		domain = "unknown"
	}
	domain = strings.NewReplacer("/", "_", ":", "_", "\\", "_").Replace(domain)
	return domain + "-" + p.Timestamp.Format("20060102T150405Z") + ".md"
}
