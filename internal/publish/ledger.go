package publish

import (
	"fmt"
	"sync"

	"github.com/Benny93/oca-go/internal/said"
)

// State is the publication state of one digest.
type State string

const (
	StatePending   State = "pending"
	StateInFlight  State = "in-flight"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Reason explains a failed state.
type Reason string

const (
	ReasonTimeout          Reason = "timeout"
	ReasonDependencyFailed Reason = "dependency-failed"
	ReasonCancelled        Reason = "cancelled"
	ReasonDigestMismatch   Reason = "digest-mismatch"
	ReasonTransport        Reason = "transport"
	ReasonRejected         Reason = "rejected"
)

// Status is the outcome for one digest.
type Status struct {
	State  State
	Reason Reason
	Err    error
}

func (s Status) String() string {
	if s.State == StateFailed {
		return fmt.Sprintf("failed(%s)", s.Reason)
	}
	return string(s.State)
}

// OK reports whether the digest was published.
func (s Status) OK() bool { return s.State == StateSucceeded }

func failed(reason Reason, err error) Status {
	return Status{State: StateFailed, Reason: reason, Err: err}
}

type ledgerEntry struct {
	status Status
	done   chan struct{}
}

// Ledger tracks what has been published. One caller at a time owns a digest
// while its call is in flight; everyone else waits for the outcome. A Ledger
// may be shared by several Publish calls.
type Ledger struct {
	mu      sync.Mutex
	entries map[said.SAID]*ledgerEntry
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{entries: make(map[said.SAID]*ledgerEntry)}
}

// Acquire makes the caller the writer for d unless d already succeeded or is
// in flight. When not acquired, done is closed once the current writer
// finishes (immediately for succeeded digests).
func (l *Ledger) Acquire(d said.SAID) (acquired bool, done <-chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[d]
	if ok {
		switch e.status.State {
		case StateSucceeded, StateInFlight:
			return false, e.done
		}
	}
	l.entries[d] = &ledgerEntry{
		status: Status{State: StateInFlight},
		done:   make(chan struct{}),
	}
	return true, nil
}

// Finish records the writer's outcome for d and wakes the waiters.
func (l *Ledger) Finish(d said.SAID, st Status) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[d]
	if !ok || e.status.State != StateInFlight {
		return
	}
	e.status = st
	close(e.done)
}

// Status returns the state of d; unknown digests are pending.
func (l *Ledger) Status(d said.SAID) Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[d]; ok {
		return e.status
	}
	return Status{State: StatePending}
}

// Snapshot copies every recorded status.
func (l *Ledger) Snapshot() map[said.SAID]Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[said.SAID]Status, len(l.entries))
	for d, e := range l.entries {
		out[d] = e.status
	}
	return out
}
