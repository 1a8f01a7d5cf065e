package auth

import (
	"io"
	"net/http"
	"net/url"

	"tsapi/pkg/apierror"
	"tsapi/pkg/audit"
)

// auditTransport records a callee out/in pair around every token endpoint
// exchange. Form fields are summarised with secrets redacted.
type auditTransport struct {
	base     http.RoundTripper
	recorder audit.Recorder
}

// RoundTrip implements http.RoundTripper.
func (t *auditTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	summary := req.Method + " " + req.URL.Path
	if form := requestForm(req); form != nil {
		fields := map[string]string{}
		for _, k := range []string{"grant_type", "client_id", "client_secret", "code", "refresh_token", "redirect_uri"} {
			if v := form.Get(k); v != "" {
				fields[k] = v
			}
		}
		summary += " " + audit.Summarize(fields)
	}

	t.recorder.Record(audit.Record{
		Side:      audit.SideCallee,
		Peer:      TokenEndpointPeer,
		Direction: audit.DirectionOut,
		Summary:   summary,
		Status:    "pending",
	})

	resp, err := t.base.RoundTrip(req)

	var status string
	if err != nil {
		status = "error: " + apierror.FromTransport(apierror.StepRefresh, err).Kind.String()
	} else {
		status = audit.StatusCode(resp.StatusCode)
	}
	t.recorder.Record(audit.Record{
		Side:      audit.SideCallee,
		Peer:      TokenEndpointPeer,
		Direction: audit.DirectionIn,
		Summary:   summary,
		Status:    status,
	})
	return resp, err
}

// requestForm reads a copy of a form-encoded request body.
func requestForm(req *http.Request) url.Values {
	if req.GetBody == nil {
		return nil
	}
	body, err := req.GetBody()
	if err != nil {
		return nil
	}
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		return nil
	}
	form, err := url.ParseQuery(string(data))
	if err != nil {
		return nil
	}
	return form
}

func wrapHTTPClient(c *http.Client, recorder audit.Recorder) *http.Client {
	base := c.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	wrapped := *c
	wrapped.Transport = &auditTransport{base: base, recorder: recorder}
	return &wrapped
}
