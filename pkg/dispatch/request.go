package dispatch

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"tsapi/pkg/apierror"
	"tsapi/pkg/audit"
	pkgstrings "tsapi/pkg/strings"
)

// DefaultCaller names the calling side in audit records when a request does
// not set one.
const DefaultCaller = "client"

// Request describes one logical API call.
type Request struct {
	Method string

	// Path is appended to the dispatcher's base URL.
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte

	// Caller names the calling side in audit records.
	Caller string
}

// Get builds a GET request for path.
func Get(path string, query url.Values) Request {
	return Request{Method: http.MethodGet, Path: path, Query: query}
}

// NewJSONRequest builds a request with a JSON-encoded body.
func NewJSONRequest(method, path string, body interface{}) (Request, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return Request{}, err
	}
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	return Request{Method: method, Path: path, Header: h, Body: data}, nil
}

func (r Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return r.Method
}

func (r Request) caller() string {
	if r.Caller == "" {
		return DefaultCaller
	}
	return r.Caller
}

// summary renders the request for audit records. Query values named like
// secrets are redacted.
func (r Request) summary(id string) string {
	var b strings.Builder
	b.WriteString("id=")
	b.WriteString(id)
	b.WriteString(" ")
	b.WriteString(r.method())
	b.WriteString(" ")
	b.WriteString(r.Path)
	if len(r.Query) > 0 {
		fields := make(map[string]string, len(r.Query))
		for k, v := range r.Query {
			fields[k] = strings.Join(v, "|")
		}
		b.WriteString(" ")
		b.WriteString(audit.Summarize(fields))
	}
	if len(r.Body) > 0 {
		b.WriteString(" body_bytes=")
		b.WriteString(strconv.Itoa(len(r.Body)))
	}
	return b.String()
}

// Response is a completed 2xx exchange.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the JSON body into out.
func (r *Response) Decode(out interface{}) error {
	if err := json.Unmarshal(r.Body, out); err != nil {
		return apierror.WithStatus(apierror.KindMalformedResponse, apierror.StepDispatch, r.StatusCode,
			&BodyError{Err: err, Snippet: pkgstrings.Snippet(r.Body)})
	}
	return nil
}

// Result is the outcome of an asynchronous send.
type Result struct {
	Request  Request
	Response *Response
	Err      error
}

// BodyError carries a shortened copy of the response body that caused a
// failure.
type BodyError struct {
	Err     error
	Snippet string
}

func (e *BodyError) Error() string {
	if e.Snippet == "" {
		return e.Err.Error()
	}
	return e.Err.Error() + ": " + e.Snippet
}

func (e *BodyError) Unwrap() error {
	return e.Err
}
