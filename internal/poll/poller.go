// Package poll runs the agent's receive loop: fetch coordination envelopes
// from the mail transport on a fixed interval and feed them through the
// negotiation state machine, isolating per-message failures.
package poll

import (
	"context"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/cosched/cosched/internal/negotiation"
	"github.com/cosched/cosched/internal/observability"
	"github.com/cosched/cosched/internal/transport"
)

// State represents the current state of the polling loop.
type State int

const (
	Idle State = iota
	Running
	Errored
)

// Status holds the loop's last observed state for the status surface.
type Status struct {
	State     State
	LastPoll  time.Time
	LastError error
	Handled   int
	Dropped   int
}

// cycleTimeout is the maximum time allowed for a single poll cycle,
// including every handler it dispatches.
const cycleTimeout = 2 * time.Minute

// maxBackoff caps the error backoff so a long outage never pushes the next
// attempt out further than this.
const maxBackoff = 30 * time.Minute

// batchSize bounds how many envelopes one cycle pulls; the rest wait for the
// next cycle.
const batchSize = 50

// Poller orchestrates background polling of the coordination inbox.
type Poller struct {
	coordinator *negotiation.Coordinator
	transport   *transport.Transport
	interval    time.Duration

	triggerCh chan struct{}
	stopCh    chan struct{}

	mu      gosync.Mutex
	status  Status
	running bool

	log *slog.Logger
}

// New creates a poller over the given transport and coordinator. A
// non-positive interval falls back to two minutes.
func New(coordinator *negotiation.Coordinator, tr *transport.Transport, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	return &Poller{
		coordinator: coordinator,
		transport:   tr,
		interval:    interval,
		triggerCh:   make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
		log:         observability.Logger(),
	}
}

// Run polls until ctx is cancelled or Stop is called. The first cycle runs
// immediately. Consecutive failing cycles back off exponentially from the
// base interval up to maxBackoff; one clean cycle resets the schedule.
func (p *Poller) Run(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	wait := time.Duration(0)
	for {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-p.stopCh:
			timer.Stop()
			return
		case <-p.triggerCh:
			timer.Stop()
		case <-timer.C:
		}

		if err := p.RunOnce(ctx); err != nil {
			wait = nextBackoff(wait, p.interval)
			p.log.Warn("poll cycle failed, backing off",
				"error", err,
				"retry_in", wait.String(),
			)
			continue
		}
		wait = p.interval
	}
}

// SetInterval overrides the poll interval. Only effective before Run;
// a non-positive value is ignored.
func (p *Poller) SetInterval(interval time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running || interval <= 0 {
		return
	}
	p.interval = interval
}

// Stop halts the polling loop between cycles. In-flight handlers finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.stopCh:
	default:
		close(p.stopCh)
	}
}

// Trigger requests an immediate poll cycle without waiting out the interval.
func (p *Poller) Trigger() {
	select {
	case p.triggerCh <- struct{}{}:
	default:
		// A trigger is already pending; one cycle covers both.
	}
}

// RunOnce performs a single poll cycle: fetch the inbound batch and dispatch
// each envelope. A transport failure aborts the cycle; a handler failure is
// logged and skipped so one malformed exchange cannot starve the rest.
func (p *Poller) RunOnce(ctx context.Context) error {
	p.setState(Running, nil)

	ctx, cancel := context.WithTimeout(ctx, cycleTimeout)
	defer cancel()

	batch, err := p.transport.PollInbound(ctx, batchSize)
	if err != nil {
		p.setState(Errored, err)
		return err
	}

	handled, dropped := 0, 0
	for _, in := range batch {
		if err := p.coordinator.HandleInbound(ctx, in); err != nil {
			dropped++
			p.log.Error("envelope handling failed",
				"conversation_id", in.Envelope.ConversationID,
				"message_id", in.Envelope.MessageID,
				"type", string(in.Envelope.Type),
				"error", err,
			)
			continue
		}
		handled++
	}

	p.mu.Lock()
	p.status.Handled += handled
	p.status.Dropped += dropped
	p.mu.Unlock()

	if handled+dropped > 0 {
		p.log.Info("poll cycle complete", "handled", handled, "dropped", dropped)
	}
	p.setState(Idle, nil)
	return nil
}

// GetStatus returns a copy of the loop's current status.
func (p *Poller) GetStatus() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Poller) setState(state State, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.State = state
	p.status.LastError = err
	if state == Idle && err == nil {
		p.status.LastPoll = time.Now()
	}
}

// nextBackoff doubles the previous wait, starting from the base interval and
// saturating at maxBackoff.
func nextBackoff(prev, base time.Duration) time.Duration {
	if prev < base {
		return base
	}
	next := prev * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}
