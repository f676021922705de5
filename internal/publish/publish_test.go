package publish

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/oca-go/internal/artifact"
	"github.com/Benny93/oca-go/internal/build"
	"github.com/Benny93/oca-go/internal/graph"
	"github.com/Benny93/oca-go/internal/said"
)

// fixture builds base, a shared dependency of left and right, and top which
// depends on both.
func fixture(t *testing.T) (*graph.DependencyGraph, map[string]*artifact.Built) {
	t.Helper()
	g, errs := graph.Resolve([]graph.SourceFile{
		{Path: "/src/base.ocafile", Text: "-- name=base\nADD ATTRIBUTE x=Text\n"},
		{Path: "/src/left.ocafile", Text: "-- name=left\nADD ATTRIBUTE b=refn:base l=Text\n"},
		{Path: "/src/right.ocafile", Text: "-- name=right\nADD ATTRIBUTE b=refn:base r=Numeric\n"},
		{Path: "/src/top.ocafile", Text: "-- name=top\nADD ATTRIBUTE l=refn:left r=refn:right\n"},
	})
	require.Empty(t, errs)
	rep := (&build.Engine{}).Build(t.Context(), g, []string{"top"})
	require.False(t, rep.Failed())
	return g, rep.Artifacts
}

// recorder is a repository that records uploads.
type recorder struct {
	mu      sync.Mutex
	calls   map[string]int
	order   []string
	handler func(w http.ResponseWriter, r *http.Request, body []byte) bool
}

func (rc *recorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	if rc.handler != nil && rc.handler(w, r, body) {
		return
	}
	rc.mu.Lock()
	if rc.calls == nil {
		rc.calls = make(map[string]int)
	}
	rc.calls[r.URL.Path]++
	rc.order = append(rc.order, string(body))
	rc.mu.Unlock()
	w.WriteHeader(http.StatusCreated)
}

func all(m map[string]*artifact.Built) []*artifact.Built {
	return []*artifact.Built{m["top"], m["left"], m["base"], m["right"], m["base"]}
}

// countingTransport counts calls per digest and delegates.
type countingTransport struct {
	mu    sync.Mutex
	calls map[said.SAID]int
	order []said.SAID
	fn    func(ctx context.Context, a *artifact.Built) error
}

func (c *countingTransport) Publish(ctx context.Context, _ string, a *artifact.Built) error {
	c.mu.Lock()
	if c.calls == nil {
		c.calls = make(map[said.SAID]int)
	}
	c.calls[a.Digest]++
	c.order = append(c.order, a.Digest)
	c.mu.Unlock()
	if c.fn != nil {
		return c.fn(ctx, a)
	}
	return nil
}

func TestPublishOrderAndDedup(t *testing.T) {
	t.Parallel()

	g, arts := fixture(t)
	tr := &countingTransport{}
	s := &Scheduler{Transport: tr, Workers: 3}

	got := s.Publish(t.Context(), all(arts), g, "http://repo.example/")
	require.Len(t, got, 4)
	for d, st := range got {
		assert.True(t, st.OK(), "%s: %s", d, st)
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	for d, n := range tr.calls {
		assert.Equal(t, 1, n, "one call per digest %s", d)
	}
	pos := make(map[said.SAID]int)
	for i, d := range tr.order {
		pos[d] = i
	}
	assert.Less(t, pos[arts["base"].Digest], pos[arts["left"].Digest])
	assert.Less(t, pos[arts["base"].Digest], pos[arts["right"].Digest])
	assert.Less(t, pos[arts["left"].Digest], pos[arts["top"].Digest])
	assert.Less(t, pos[arts["right"].Digest], pos[arts["top"].Digest])
}

func TestPublishLedgerSkipsSucceeded(t *testing.T) {
	t.Parallel()

	g, arts := fixture(t)
	tr := &countingTransport{}
	s := &Scheduler{Transport: tr, Ledger: NewLedger()}

	s.Publish(t.Context(), all(arts), g, "http://repo.example/")
	second := s.Publish(t.Context(), all(arts), g, "http://repo.example/")
	for _, st := range second {
		assert.True(t, st.OK())
	}
	tr.mu.Lock()
	assert.Len(t, tr.order, 4)
	tr.mu.Unlock()
	assert.Equal(t, StateSucceeded, s.Ledger.Status(arts["top"].Digest).State)
}

func TestPublishConcurrentRunsShareLedger(t *testing.T) {
	t.Parallel()

	g, arts := fixture(t)
	release := make(chan struct{})
	tr := &countingTransport{fn: func(ctx context.Context, a *artifact.Built) error {
		<-release
		return nil
	}}
	ledger := NewLedger()

	var wg sync.WaitGroup
	results := make([]map[said.SAID]Status, 3)
	for i := range results {
		wg.Go(func() {
			s := &Scheduler{Transport: tr, Ledger: ledger, Timeout: 5 * time.Second}
			results[i] = s.Publish(t.Context(), all(arts), g, "http://repo.example/")
		})
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, res := range results {
		for _, st := range res {
			assert.True(t, st.OK())
		}
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for _, n := range tr.calls {
		assert.Equal(t, 1, n)
	}
}

func TestPublishTimeout(t *testing.T) {
	t.Parallel()

	g, arts := fixture(t)
	hang := &recorder{handler: func(w http.ResponseWriter, r *http.Request, body []byte) bool {
		<-r.Context().Done()
		return true
	}}
	srv := httptest.NewServer(hang)
	t.Cleanup(srv.Close)

	s := &Scheduler{Transport: &HTTPTransport{Client: srv.Client()}, Timeout: 50 * time.Millisecond}
	got := s.Publish(t.Context(), all(arts), g, srv.URL)

	assert.Equal(t, "failed(timeout)", got[arts["base"].Digest].String())
	for _, refn := range []string{"left", "right", "top"} {
		assert.Equal(t, "failed(dependency-failed)", got[arts[refn].Digest].String(), refn)
	}
	var te *TransportError
	require.ErrorAs(t, got[arts["base"].Digest].Err, &te)
	assert.Equal(t, TransportTimeout, te.Kind)
}

func TestPublishRejectedPropagates(t *testing.T) {
	t.Parallel()

	g, arts := fixture(t)
	leftBody := string(arts["left"].Serialized)
	rc := &recorder{handler: func(w http.ResponseWriter, r *http.Request, body []byte) bool {
		if string(body) == leftBody {
			http.Error(w, "schema not accepted", http.StatusUnprocessableEntity)
			return true
		}
		return false
	}}
	srv := httptest.NewServer(rc)
	t.Cleanup(srv.Close)

	s := &Scheduler{Transport: &HTTPTransport{Client: srv.Client()}}
	got := s.Publish(t.Context(), all(arts), g, srv.URL+"/")

	assert.True(t, got[arts["base"].Digest].OK())
	assert.True(t, got[arts["right"].Digest].OK())
	left := got[arts["left"].Digest]
	assert.Equal(t, "failed(rejected)", left.String())
	var te *TransportError
	require.ErrorAs(t, left.Err, &te)
	assert.Equal(t, http.StatusUnprocessableEntity, te.Status)
	assert.Equal(t, "schema not accepted", te.Body)
	assert.Equal(t, ReasonDependencyFailed, got[arts["top"].Digest].Reason)

	rc.mu.Lock()
	assert.Equal(t, map[string]int{"/oca-bundles": 2}, rc.calls)
	rc.mu.Unlock()
}

func TestPublishConnectionFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, arts := fixture(t)
	s := &Scheduler{Transport: &HTTPTransport{}, Timeout: time.Second}
	got := s.Publish(t.Context(), []*artifact.Built{arts["base"]}, nil, url)
	assert.Equal(t, "failed(transport)", got[arts["base"].Digest].String())
}

func TestPublishDigestMismatch(t *testing.T) {
	t.Parallel()

	g, arts := fixture(t)
	tampered := *arts["base"]
	tampered.Serialized = append([]byte(nil), tampered.Serialized...)
	tampered.Serialized[len(tampered.Serialized)-3] ^= 1

	tr := &countingTransport{}
	got := (&Scheduler{Transport: tr}).Publish(t.Context(), []*artifact.Built{&tampered, arts["left"]}, g, "http://repo.example/")

	assert.Equal(t, "failed(digest-mismatch)", got[tampered.Digest].String())
	assert.Equal(t, "failed(dependency-failed)", got[arts["left"].Digest].String())
	tr.mu.Lock()
	assert.Empty(t, tr.calls)
	tr.mu.Unlock()
}

func TestPublishCancelled(t *testing.T) {
	t.Parallel()

	g, arts := fixture(t)
	ctx, cancel := context.WithCancel(t.Context())

	var inFlight atomic.Bool
	tr := &countingTransport{fn: func(callCtx context.Context, a *artifact.Built) error {
		inFlight.Store(true)
		cancel()
		// The run is cancelled but the call itself is not.
		time.Sleep(10 * time.Millisecond)
		return callCtx.Err()
	}}
	got := (&Scheduler{Transport: tr, Workers: 1}).Publish(ctx, all(arts), g, "http://repo.example/")

	assert.True(t, inFlight.Load())
	assert.True(t, got[arts["base"].Digest].OK(), "in-flight call completes")
	assert.Equal(t, "failed(dependency-failed)", got[arts["top"].Digest].String())
	for _, refn := range []string{"left", "right"} {
		assert.Equal(t, "failed(cancelled)", got[arts[refn].Digest].String(), refn)
	}
}

func TestLedger(t *testing.T) {
	t.Parallel()

	l := NewLedger()
	d := said.Derive([]byte("x"))
	assert.Equal(t, StatePending, l.Status(d).State)

	ok, _ := l.Acquire(d)
	require.True(t, ok)
	again, wait := l.Acquire(d)
	require.False(t, again)
	select {
	case <-wait:
		t.Fatal("waiters must block while in flight")
	default:
	}

	l.Finish(d, failed(ReasonTimeout, errors.New("slow")))
	<-wait
	assert.Equal(t, "failed(timeout)", l.Status(d).String())

	// A failed digest can be retried by a later run.
	ok, _ = l.Acquire(d)
	require.True(t, ok)
	l.Finish(d, Status{State: StateSucceeded})
	ok, wait = l.Acquire(d)
	assert.False(t, ok)
	<-wait
	assert.Len(t, l.Snapshot(), 1)
}

func TestEndpoint(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://repo.example/oca-bundles", Endpoint("https://repo.example/"))
	assert.Equal(t, "https://repo.example/api/oca-bundles", Endpoint("https://repo.example/api"))
}
