package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/workmesh/workmesh/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// Dispatcher delivers recorded events to webhook subscribers.
type Dispatcher struct {
	urls   []string
	client *http.Client
	logger *slog.Logger
}

func NewDispatcher(urls []string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		urls:   urls,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

// HandleEventDispatch posts the event to every subscriber. A failed
// subscriber fails the task so asynq retries the whole delivery; subscribers
// must deduplicate on event id.
func (d *Dispatcher) HandleEventDispatch(ctx context.Context, t *asynq.Task) (err error) {
	tracker := defaultJobMetrics.Track("event_dispatch")
	defer func() { err = tracker.End(err) }()

	var payload EventDispatchPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if len(d.urls) == 0 {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return asynq.SkipRetry
	}
	for _, url := range d.urls {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Workmesh-Event-Id", payload.ID.String())
		req.Header.Set("X-Workmesh-Topic", payload.Topic)

		resp, err := d.client.Do(req)
		if err != nil {
			return fmt.Errorf("deliver %s to %s: %w", payload.Topic, url, err)
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			return fmt.Errorf("deliver %s to %s: status %d", payload.Topic, url, resp.StatusCode)
		}
		d.logger.Debug("event delivered", "topic", payload.Topic, "url", url)
	}
	return nil
}
