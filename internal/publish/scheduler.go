// Package publish uploads built artifacts to a remote repository in
// dependency order, at most once per digest.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/Benny93/oca-go/internal/artifact"
	"github.com/Benny93/oca-go/internal/ctxlog"
	"github.com/Benny93/oca-go/internal/graph"
	"github.com/Benny93/oca-go/internal/said"
)

const (
	// DefaultTimeout bounds one transport call.
	DefaultTimeout = 30 * time.Second

	DefaultWorkers = 4
)

// Scheduler publishes artifact sets. Calls are never retried automatically.
type Scheduler struct {
	Transport Transport

	// Ledger is shared across Publish calls when set.
	Ledger *Ledger

	Timeout time.Duration
	Workers int
	Logger  *slog.Logger
}

// Publish uploads artifacts to endpoint. Dependencies are published before
// their dependents, following g when given and the digests each artifact
// embeds. A failed artifact fails every dependent in the set. Cancelling ctx
// stops new calls; calls already in flight finish within the timeout.
func (s *Scheduler) Publish(ctx context.Context, artifacts []*artifact.Built, g *graph.DependencyGraph, endpoint string) map[said.SAID]Status {
	logger := s.Logger
	if logger == nil {
		logger = ctxlog.FromContext(ctx)
	}
	ledger := s.Ledger
	if ledger == nil {
		ledger = NewLedger()
	}

	set, order, deps := plan(artifacts, g)
	results := make(map[said.SAID]Status, len(set))
	done := make(map[said.SAID]chan struct{}, len(set))
	for d := range set {
		done[d] = make(chan struct{})
	}

	var mu sync.Mutex
	record := func(d said.SAID, st Status) {
		mu.Lock()
		results[d] = st
		mu.Unlock()
		close(done[d])
	}
	statusOf := func(d said.SAID) Status {
		mu.Lock()
		defer mu.Unlock()
		return results[d]
	}

	// Artifacts that could not be ordered depend on each other; none of them
	// can go first.
	ordered := make(map[said.SAID]bool, len(order))
	for _, d := range order {
		ordered[d] = true
	}
	for d := range set {
		if !ordered[d] {
			record(d, failed(ReasonDependencyFailed, errors.New("circular dependencies")))
		}
	}

	w := &worker{
		transport: s.Transport,
		ledger:    ledger,
		timeout:   s.timeout(),
		sem:       make(chan struct{}, s.workers()),
		endpoint:  endpoint,
		logger:    logger,
	}

	var wg sync.WaitGroup
	for _, d := range order {
		wg.Go(func() {
			for _, dep := range deps[d] {
				<-done[dep]
				if st := statusOf(dep); !st.OK() {
					record(d, failed(ReasonDependencyFailed, fmt.Errorf("dependency %s: %s", dep, st)))
					return
				}
			}
			record(d, w.publish(ctx, set[d]))
		})
	}
	wg.Wait()

	var ok, bad int
	for d, st := range results {
		if st.OK() {
			ok++
			continue
		}
		bad++
		logger.Warn("Publish failed.", "digest", d, "refn", set[d].Refn, "status", st.String(), "error", st.Err)
	}
	logger.Info("Publish finished.", "succeeded", ok, "failed", bad)
	return results
}

func (s *Scheduler) timeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return DefaultTimeout
}

func (s *Scheduler) workers() int {
	if s.Workers > 0 {
		return s.Workers
	}
	return DefaultWorkers
}

type worker struct {
	transport Transport
	ledger    *Ledger
	timeout   time.Duration
	sem       chan struct{}
	endpoint  string
	logger    *slog.Logger
}

func (w *worker) publish(ctx context.Context, a *artifact.Built) Status {
	log := w.logger.With("digest", a.Digest, "refn", a.Refn)

	if err := a.Verify(); err != nil {
		return failed(ReasonDigestMismatch, err)
	}

	select {
	case w.sem <- struct{}{}:
	case <-ctx.Done():
		return failed(ReasonCancelled, ctx.Err())
	}
	defer func() { <-w.sem }()
	if err := ctx.Err(); err != nil {
		return failed(ReasonCancelled, err)
	}

	acquired, wait := w.ledger.Acquire(a.Digest)
	if !acquired {
		<-wait
		st := w.ledger.Status(a.Digest)
		log.Debug("Artifact handled elsewhere.", "status", st.String())
		return st
	}

	// The call outlives run cancellation and is bounded only by the timeout.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.timeout)
	defer cancel()

	log.Debug("Publishing artifact.")
	st := classify(w.transport.Publish(callCtx, w.endpoint, a))
	w.ledger.Finish(a.Digest, st)
	return st
}

func classify(err error) Status {
	if err == nil {
		return Status{State: StateSucceeded}
	}
	var te *TransportError
	if errors.As(err, &te) {
		switch te.Kind {
		case TransportTimeout:
			return failed(ReasonTimeout, err)
		case TransportRejected:
			return failed(ReasonRejected, err)
		}
		return failed(ReasonTransport, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return failed(ReasonTimeout, err)
	}
	return failed(ReasonTransport, err)
}

// plan deduplicates artifacts by digest and orders them so dependencies come
// first. Ties keep input order. deps lists, per digest, the digests in the
// set it must wait for.
func plan(artifacts []*artifact.Built, g *graph.DependencyGraph) (map[said.SAID]*artifact.Built, []said.SAID, map[said.SAID][]said.SAID) {
	set := make(map[said.SAID]*artifact.Built, len(artifacts))
	var input []said.SAID
	byRefn := make(map[string]said.SAID)
	for _, a := range artifacts {
		if _, dup := set[a.Digest]; dup {
			continue
		}
		set[a.Digest] = a
		input = append(input, a.Digest)
		if a.Refn != "" {
			byRefn[a.Refn] = a.Digest
		}
	}

	deps := make(map[said.SAID][]said.SAID, len(set))
	for _, d := range input {
		a := set[d]
		add := func(dep said.SAID) {
			if dep != d && !slices.Contains(deps[d], dep) {
				deps[d] = append(deps[d], dep)
			}
		}
		if g != nil && a.Refn != "" {
			for _, refn := range g.Dependencies(a.Refn) {
				if dep, ok := byRefn[refn]; ok {
					add(dep)
				}
			}
		}
		for _, dep := range a.Dependencies {
			if _, ok := set[dep]; ok {
				add(dep)
			}
		}
	}

	pending := make(map[said.SAID]int, len(set))
	dependents := make(map[said.SAID][]said.SAID, len(set))
	for _, d := range input {
		pending[d] = len(deps[d])
		for _, dep := range deps[d] {
			dependents[dep] = append(dependents[dep], d)
		}
	}
	var queue, order []said.SAID
	for _, d := range input {
		if pending[d] == 0 {
			queue = append(queue, d)
		}
	}
	for len(queue) > 0 {
		d := queue[0]
		queue = queue[1:]
		order = append(order, d)
		for _, dependent := range dependents[d] {
			pending[dependent]--
			if pending[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}
	return set, order, deps
}
