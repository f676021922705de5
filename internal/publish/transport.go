package publish

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/Benny93/oca-go/internal/artifact"
)

// Transport delivers one artifact to a repository.
type Transport interface {
	Publish(ctx context.Context, endpoint string, a *artifact.Built) error
}

// TransportErrorKind classifies transport failures.
type TransportErrorKind string

const (
	TransportTimeout    TransportErrorKind = "timeout"
	TransportConnection TransportErrorKind = "connection"
	TransportRejected   TransportErrorKind = "rejected"
)

// TransportError is returned by transports for failed calls.
type TransportError struct {
	Kind TransportErrorKind

	// Status is the HTTP status of a rejected call.
	Status int

	// Body is the start of the repository's response to a rejected call.
	Body string

	Err error
}

func (e *TransportError) Error() string {
	switch {
	case e.Kind == TransportRejected && e.Body != "":
		return fmt.Sprintf("repository rejected artifact: status %d: %s", e.Status, e.Body)
	case e.Kind == TransportRejected:
		return fmt.Sprintf("repository rejected artifact: status %d", e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// BundlesPath is appended to the repository URL.
const BundlesPath = "oca-bundles"

// maxErrorBody bounds how much of a rejection body is kept.
const maxErrorBody = 1024

// HTTPTransport posts serialized artifacts to an OCA repository.
type HTTPTransport struct {
	Client *http.Client
}

// Endpoint returns the bundle upload URL for a repository URL.
func Endpoint(repository string) string {
	return strings.TrimRight(repository, "/") + "/" + BundlesPath
}

// Publish posts a to the repository at endpoint. Deadlines come from ctx.
func (t *HTTPTransport) Publish(ctx context.Context, endpoint string, a *artifact.Built) error {
	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, Endpoint(endpoint), bytes.NewReader(a.Serialized))
	if err != nil {
		return &TransportError{Kind: TransportConnection, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		kind := TransportConnection
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			kind = TransportTimeout
		}
		return &TransportError{Kind: kind, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil && ctx.Err() != nil {
		return &TransportError{Kind: TransportTimeout, Err: err}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &TransportError{
		Kind:   TransportRejected,
		Status: resp.StatusCode,
		Body:   strings.TrimSpace(string(body)),
	}
}
