package docparse

import (
	"context"
	"fmt"
	"time"

	apperrors "go-doc-recognizer/internal/errors"
	"go-doc-recognizer/internal/logger"

	"github.com/sirupsen/logrus"
)

// Poller submits a work request and waits for the task to reach a terminal
// state, querying at a fixed interval under an attempt budget. Vendor task
// completion times are short and bounded in practice, so there is no backoff.
type Poller struct {
	client      Client
	maxAttempts int
	interval    time.Duration
}

// NewPoller creates a poller with the given attempt budget and query interval.
func NewPoller(client Client, maxAttempts int, interval time.Duration) *Poller {
	return &Poller{
		client:      client,
		maxAttempts: maxAttempts,
		interval:    interval,
	}
}

// SubmitAndAwait runs a task to completion and returns the terminal success
// body. A terminal failed or cancelled status fails with a poll error carrying
// the vendor's message when it supplied one. Exhausting the attempt budget
// without a terminal state fails with a timeout error. The sleep between
// queries is a suspend point: a context deadline cancels the wait there, so
// callers can impose a wall-clock bound tighter than attempts x interval.
func (p *Poller) SubmitAndAwait(ctx context.Context, req WorkRequest) (map[string]interface{}, error) {
	handle, err := p.client.Submit(ctx, req)
	if err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		report, err := p.client.QueryStatus(ctx, handle.ID)
		if err != nil {
			return nil, err
		}

		logger.WithFields(logrus.Fields{
			"task_id": handle.ID,
			"attempt": attempt,
			"status":  report.Status,
		}).Debug("Polled task status")

		switch report.Status {
		case StatusSuccess:
			return report.Body, nil
		case StatusFailed, StatusCancelled:
			message := report.Message
			if message == "" {
				message = "document parse task failed"
			}
			return nil, apperrors.NewPollError(message, nil)
		}

		// Still pending (including unrecognized statuses); suspend before
		// the next query, but never after the final one.
		if attempt == p.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, apperrors.NewTimeoutError("cancelled while waiting for task completion", ctx.Err())
		case <-time.After(p.interval):
		}
	}

	return nil, apperrors.NewTimeoutError(
		fmt.Sprintf("task %s not terminal after %d attempts", handle.ID, p.maxAttempts), nil)
}
