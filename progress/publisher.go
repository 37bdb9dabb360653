package progress

import (
	"context"
	"strconv"
	"time"

	"github.com/ytget/ytrelay/internal/logger"
)

// Event types carried on a subscription.
const (
	EventProgress = "progress"
	EventComplete = "complete"
	EventError    = "error"
)

// LatestID subscribes to the most recently started transfer.
const LatestID = "latest"

const (
	DefaultInterval    = 500 * time.Millisecond
	DefaultWaitTimeout = 30 * time.Second
)

// Event is one server-sent event. Data is a percentage for progress and
// complete events and a message for error events.
type Event struct {
	Type string
	Data string
}

// Publisher turns Tracker state into per-subscriber event streams.
type Publisher struct {
	tracker     *Tracker
	interval    time.Duration
	waitTimeout time.Duration
	log         *logger.ComponentLogger
}

// NewPublisher returns a Publisher ticking every interval. Subscriptions to an
// id the tracker has never seen give up after waitTimeout.
func NewPublisher(tracker *Tracker, interval, waitTimeout time.Duration) *Publisher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if waitTimeout <= 0 {
		waitTimeout = DefaultWaitTimeout
	}
	return &Publisher{
		tracker:     tracker,
		interval:    interval,
		waitTimeout: waitTimeout,
		log:         logger.WithComponent(logger.ComponentProgress),
	}
}

// Subscribe starts a stream for transfer id and returns its channel. The
// channel is closed when ctx is done or, for a real transfer, after its
// terminal event.
//
// LatestID follows whichever transfer began most recently at the first tick
// that finds one, and stays on it.
//
// An empty id yields the compatibility ramp: "0" through "100", one value per
// tick, repeating until ctx ends. It does not reflect any transfer.
func (p *Publisher) Subscribe(ctx context.Context, id string) <-chan Event {
	ch := make(chan Event)
	if id == "" {
		go p.ramp(ctx, ch)
	} else {
		go p.follow(ctx, id, ch)
	}
	return ch
}

func (p *Publisher) ramp(ctx context.Context, ch chan<- Event) {
	defer close(ch)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for i := 0; ; i = (i + 1) % 101 {
		if !send(ctx, ch, Event{Type: EventProgress, Data: strconv.Itoa(i)}) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Publisher) follow(ctx context.Context, id string, ch chan<- Event) {
	defer close(ch)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	deadline := time.Now().Add(p.waitTimeout)
	for {
		st, ok := p.lookup(&id)
		switch {
		case !ok && time.Now().After(deadline):
			p.log.Debug("gave up waiting for transfer", map[string]interface{}{"transfer_id": id})
			send(ctx, ch, Event{Type: EventError, Data: "unknown transfer"})
			return
		case !ok:
			if !send(ctx, ch, Event{Type: EventProgress, Data: "0"}) {
				return
			}
		case st.Status == StatusCompleted:
			if send(ctx, ch, Event{Type: EventProgress, Data: "100"}) {
				send(ctx, ch, Event{Type: EventComplete, Data: "100"})
			}
			return
		case st.Status == StatusFailed:
			if send(ctx, ch, Event{Type: EventProgress, Data: strconv.Itoa(st.Percent())}) {
				send(ctx, ch, Event{Type: EventError, Data: st.Error})
			}
			return
		default:
			if !send(ctx, ch, Event{Type: EventProgress, Data: strconv.Itoa(st.Percent())}) {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// lookup snapshots *id, binding LatestID to a concrete transfer once one exists.
func (p *Publisher) lookup(id *string) (State, bool) {
	if *id != LatestID {
		return p.tracker.Snapshot(*id)
	}
	st, ok := p.tracker.Latest()
	if ok {
		*id = st.ID
	}
	return st, ok
}

// send delivers ev unless ctx ends first.
func send(ctx context.Context, ch chan<- Event, ev Event) bool {
	select {
	case <-ctx.Done():
		return false
	case ch <- ev:
		return true
	}
}
