package report

import (
	"context"
	"errors"
)

// EventType discriminates the variants of a job `Event`.
type EventType uint8

const (
	// EventInvalidCredentials fires before submission when the stored
	// credentials are rejected; the job then finishes without reporting.
	EventInvalidCredentials EventType = iota

	// EventServerMessage carries the service's acknowledgement text of an
	// accepted report.
	EventServerMessage

	// EventFinished is always the last event of a job.
	EventFinished
)

// Event delivered by a `Job`.
type Event struct {
	Type EventType

	// Text is the server text of an `EventServerMessage`.
	Text string

	// Result is set on `EventFinished`.
	Result Result
}

// Job is one asynchronous submission. The owning application reads
// `Events` from whatever context it likes; the network work happens on a
// background goroutine, mirroring how the coordination channel delivers
// its events.
type Job struct {
	events chan Event
}

func (j *Job) Events() <-chan Event {
	return j.events
}

// SubmitAsync runs CheckUser and Submit on a background goroutine. The
// event channel is closed after `EventFinished`; cancel `ctx` to abandon
// the in-flight call.
func (c *Client) SubmitAsync(ctx context.Context, req Request) *Job {
	j := &Job{events: make(chan Event, 4)}
	go j.run(ctx, c, req)
	return j
}

func (j *Job) run(ctx context.Context, c *Client, req Request) {
	defer close(j.events)

	if err := c.CheckUser(ctx); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			j.events <- Event{Type: EventInvalidCredentials}
		} else {
			c.logger.Warn("credential check failed", "error", err)
		}
		j.events <- Event{Type: EventFinished, Result: Result{Status: StatusNotReported}}
		return
	}

	res, err := c.Submit(ctx, req)
	if err != nil {
		c.logger.Warn("report submission failed", "error", err)
		res = Result{Status: StatusNotReported}
	}

	if res.Status == StatusReported {
		j.events <- Event{Type: EventServerMessage, Text: res.ServerText}
	}
	j.events <- Event{Type: EventFinished, Result: res}
}
