package push

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/matchpulse/matchpulse/internal/scoring"
	"github.com/matchpulse/matchpulse/internal/session"
)

// Transport is the fire-and-forget push delivery primitive. Send returns
// ErrInvalidCredential (possibly wrapped) when the token is permanently
// dead; any other error is treated as transient.
type Transport interface {
	Send(ctx context.Context, n Notification) error
}

// Dispatcher formats views into transport payloads and submits them with
// bounded retries and exponential backoff.
type Dispatcher struct {
	transport   Transport
	maxAttempts int
	logger      zerolog.Logger

	// lastTimestamp enforces a monotonically increasing freshness
	// timestamp across all pushes, so out-of-order deliveries cannot
	// roll a widget backwards.
	lastTimestamp atomic.Int64
}

// NewDispatcher creates a dispatcher. maxAttempts bounds total attempts
// per notification, including the first.
func NewDispatcher(transport Transport, maxAttempts int, logger zerolog.Logger) *Dispatcher {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Dispatcher{
		transport:   transport,
		maxAttempts: maxAttempts,
		logger:      logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Dispatch submits a content update for a session. Notable updates get
// immediate priority and a client-visible alert.
func (d *Dispatcher) Dispatch(ctx context.Context, s session.Session, view session.View, class scoring.AlertClass) (Result, error) {
	ts := d.freshnessTimestamp()

	n := Notification{
		Token:        s.PushToken,
		Event:        EventUpdate,
		Priority:     PriorityBackground,
		Timestamp:    ts,
		ContentState: NewContentState(view, ts, ""),
	}
	if class == scoring.AlertNotable {
		n.Priority = PriorityImmediate
		if view.TopPerformer != nil {
			n.Alert = &Alert{
				Title: "Big play!",
				Body:  fmt.Sprintf("%s is up %.1f points", view.TopPerformer.Name, view.TopPerformer.Delta),
				Sound: "chime.aiff",
			}
		}
	}

	return d.send(ctx, s.ID, n)
}

// DispatchMessage submits a content update carrying an out-of-band message,
// such as the names of games about to kick off. The view is the session's
// last delivered one; only the message changes.
func (d *Dispatcher) DispatchMessage(ctx context.Context, s session.Session, view session.View, message string) (Result, error) {
	ts := d.freshnessTimestamp()

	n := Notification{
		Token:        s.PushToken,
		Event:        EventUpdate,
		Priority:     PriorityImmediate,
		Timestamp:    ts,
		ContentState: NewContentState(view, ts, message),
	}

	return d.send(ctx, s.ID, n)
}

// DispatchStart submits a transport-initiated activity start to a
// device's start credential.
func (d *Dispatcher) DispatchStart(ctx context.Context, device session.Device, view session.View, message string) (Result, error) {
	ts := d.freshnessTimestamp()

	n := Notification{
		Token:        device.PushToStartToken,
		Event:        EventStart,
		Priority:     PriorityImmediate,
		Timestamp:    ts,
		ContentState: NewContentState(view, ts, message),
		Attributes: &Attributes{
			UserID:   device.UserID,
			LeagueID: device.LeagueID,
		},
	}

	return d.send(ctx, "start:"+device.ID, n)
}

// DispatchEnd submits the terminal push for a stopped session. The final
// view is marked ended and the widget is dismissed shortly after.
func (d *Dispatcher) DispatchEnd(ctx context.Context, s session.Session, view session.View) (Result, error) {
	ts := d.freshnessTimestamp()

	view.StatusLabel = "Final"
	view.ActivePlayers = 0
	n := Notification{
		Token:         s.PushToken,
		Event:         EventEnd,
		Priority:      PriorityBackground,
		Timestamp:     ts,
		ContentState:  NewContentState(view, ts, "Matchup complete"),
		DismissalDate: time.Unix(ts, 0).Add(30 * time.Minute).Unix(),
	}

	return d.send(ctx, s.ID, n)
}

// send runs the bounded retry loop for one notification.
func (d *Dispatcher) send(ctx context.Context, ref string, n Notification) (Result, error) {
	if n.Token == "" {
		return PermanentlyInvalid, ErrInvalidCredential
	}

	attempt := 0
	operation := func() error {
		attempt++
		err := d.transport.Send(ctx, n)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrInvalidCredential) {
			return backoff.Permanent(err)
		}
		d.logger.Warn().
			Err(err).
			Str("ref", ref).
			Str("event", string(n.Event)).
			Int("attempt", attempt).
			Msg("Push attempt failed")
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = 0

	err := backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(d.maxAttempts-1)), ctx))
	switch {
	case err == nil:
		d.logger.Debug().
			Str("ref", ref).
			Str("event", string(n.Event)).
			Int("attempts", attempt).
			Msg("Push delivered")
		return Delivered, nil
	case errors.Is(err, ErrInvalidCredential):
		d.logger.Warn().
			Str("ref", ref).
			Msg("Push credential permanently invalid")
		return PermanentlyInvalid, err
	default:
		d.logger.Error().
			Err(err).
			Str("ref", ref).
			Int("attempts", attempt).
			Msg("Push retries exhausted")
		return RetriesExhausted, err
	}
}

// freshnessTimestamp returns a strictly increasing unix timestamp.
func (d *Dispatcher) freshnessTimestamp() int64 {
	for {
		now := time.Now().Unix()
		last := d.lastTimestamp.Load()
		if now <= last {
			now = last + 1
		}
		if d.lastTimestamp.CompareAndSwap(last, now) {
			return now
		}
	}
}
