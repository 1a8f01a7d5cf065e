package dispatch

import (
	"context"
	"net/http"

	"tsapi/pkg/apierror"
	"tsapi/pkg/audit"
)

type requestIDKey struct{}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the correlation id of the logical request ctx belongs to.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// auditTransport records a callee out/in pair around every transport
// attempt, retries included.
type auditTransport struct {
	base     http.RoundTripper
	recorder audit.Recorder
}

// RoundTrip implements http.RoundTripper.
func (t *auditTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	peer := req.URL.Host
	summary := "id=" + RequestID(req.Context()) + " " + req.Method + " " + req.URL.Path

	t.recorder.Record(audit.Record{
		Side:      audit.SideCallee,
		Peer:      peer,
		Direction: audit.DirectionOut,
		Summary:   summary,
		Status:    "pending",
	})

	resp, err := t.base.RoundTrip(req)

	var status string
	if err != nil {
		status = "error: " + apierror.FromTransport(apierror.StepDispatch, err).Kind.String()
	} else {
		status = audit.StatusCode(resp.StatusCode)
	}
	t.recorder.Record(audit.Record{
		Side:      audit.SideCallee,
		Peer:      peer,
		Direction: audit.DirectionIn,
		Summary:   summary,
		Status:    status,
	})
	return resp, err
}
