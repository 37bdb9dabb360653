package progress

import (
	"math"
	"sync"
	"time"

	"github.com/ytget/ytrelay/internal/logger"
)

// DefaultRetention is how long finished transfers remain observable.
const DefaultRetention = 5 * time.Minute

// Status is the lifecycle stage of a transfer.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsFinished reports whether no further updates are accepted.
func (s Status) IsFinished() bool {
	return s == StatusCompleted || s == StatusFailed
}

// State is a point-in-time copy of one transfer's progress.
type State struct {
	ID        string    `json:"id"`
	Fraction  float64   `json:"fraction"`
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Percent returns the fraction as an integer in [0,100], rounded down so
// 100 is only reported once every byte has arrived.
func (s State) Percent() int {
	p := int(s.Fraction * 100)
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// Tracker is a concurrency-safe map of transfer id to State.
type Tracker struct {
	mu        sync.RWMutex
	states    map[string]*State
	latest    string
	retention time.Duration
	now       func() time.Time
	log       *logger.ComponentLogger
}

// NewTracker returns a Tracker that evicts finished transfers after
// retention. A non-positive retention uses DefaultRetention.
func NewTracker(retention time.Duration) *Tracker {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Tracker{
		states:    make(map[string]*State),
		retention: retention,
		now:       time.Now,
		log:       logger.WithComponent(logger.ComponentProgress),
	}
}

// Begin registers id as pending with zero progress, replacing any previous
// state under the same id.
func (t *Tracker) Begin(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pruneLocked()
	t.states[id] = &State{ID: id, Status: StatusPending, UpdatedAt: t.now()}
	t.latest = id
	t.log.Debug("transfer registered", map[string]interface{}{"transfer_id": id})
}

// Claim registers id like Begin unless a transfer under id is still pending
// or running, in which case it reports false and leaves that transfer alone.
func (t *Tracker) Claim(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pruneLocked()
	if st, ok := t.states[id]; ok && !st.Status.IsFinished() {
		return false
	}
	t.states[id] = &State{ID: id, Status: StatusPending, UpdatedAt: t.now()}
	t.latest = id
	t.log.Debug("transfer registered", map[string]interface{}{"transfer_id": id})
	return true
}

// Report records fraction for id. Values are clamped to [0,1] and never lower
// the stored fraction. Reports for finished transfers are ignored.
func (t *Tracker) Report(id string, fraction float64) {
	if fraction < 0 || math.IsNaN(fraction) {
		fraction = 0
	} else if fraction > 1 {
		fraction = 1
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.states[id]
	if !ok {
		st = &State{ID: id}
		t.states[id] = st
		t.latest = id
	}
	if st.Status.IsFinished() {
		return
	}
	st.Status = StatusRunning
	if fraction > st.Fraction {
		st.Fraction = fraction
	}
	st.UpdatedAt = t.now()
}

// Complete marks id as fully transferred.
func (t *Tracker) Complete(id string) {
	t.finish(id, StatusCompleted, "")
}

// Fail marks id as failed with err's message. The fraction reached so far is
// kept.
func (t *Tracker) Fail(id string, err error) {
	msg := "transfer failed"
	if err != nil {
		msg = err.Error()
	}
	t.finish(id, StatusFailed, msg)
}

func (t *Tracker) finish(id string, status Status, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.states[id]
	if !ok {
		st = &State{ID: id}
		t.states[id] = st
	}
	if st.Status.IsFinished() {
		return
	}
	st.Status = status
	st.Error = msg
	if status == StatusCompleted {
		st.Fraction = 1
	}
	st.UpdatedAt = t.now()

	fields := map[string]interface{}{"transfer_id": id, "status": string(status)}
	if msg != "" {
		fields["error"] = msg
	}
	t.log.Debug("transfer finished", fields)
}

// Snapshot returns a copy of id's state.
func (t *Tracker) Snapshot(id string) (State, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st, ok := t.states[id]
	if !ok || t.expiredLocked(st) {
		return State{}, false
	}
	return *st, true
}

// Latest returns the state of the most recently registered transfer.
func (t *Tracker) Latest() (State, bool) {
	t.mu.RLock()
	id := t.latest
	t.mu.RUnlock()
	if id == "" {
		return State{}, false
	}
	return t.Snapshot(id)
}

// Len returns the number of retained transfers, expired ones included until
// the next write prunes them.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.states)
}

func (t *Tracker) expiredLocked(st *State) bool {
	return st.Status.IsFinished() && t.now().Sub(st.UpdatedAt) > t.retention
}

// pruneLocked drops finished transfers past retention. Caller holds mu.
func (t *Tracker) pruneLocked() {
	for id, st := range t.states {
		if t.expiredLocked(st) {
			delete(t.states, id)
			if t.latest == id {
				t.latest = ""
			}
		}
	}
}
