package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"

	"tsapi/pkg/apierror"
	"tsapi/pkg/audit"
	"tsapi/pkg/logging"
	pkgstrings "tsapi/pkg/strings"
)

const (
	// DefaultMaxAttempts bounds transport attempts per exchange, the first
	// one included.
	DefaultMaxAttempts = 3

	// DefaultAttemptTimeout bounds a single transport attempt.
	DefaultAttemptTimeout = 30 * time.Second

	DefaultBackoffMin = 500 * time.Millisecond
	DefaultBackoffMax = 10 * time.Second

	// DefaultConcurrency bounds SendAll fan-out.
	DefaultConcurrency = 4

	// maxBodyBytes caps how much of a response body is read.
	maxBodyBytes = 16 << 20
)

// Authorizer supplies access tokens. *auth.Session implements it.
type Authorizer interface {
	// EnsureValid makes sure AccessToken returns a usable token.
	EnsureValid(ctx context.Context) error

	// AccessToken returns the current access token.
	AccessToken() string

	// RefreshIfCurrent refreshes unless rejected has already been replaced.
	RefreshIfCurrent(ctx context.Context, rejected string) error
}

// Config configures a Dispatcher.
type Config struct {
	// BaseURL is prepended to every request path.
	BaseURL string

	MaxAttempts    int
	AttemptTimeout time.Duration
	BackoffMin     time.Duration
	BackoffMax     time.Duration
	Concurrency    int

	// Transport performs the raw exchanges. Defaults to http.DefaultTransport.
	Transport http.RoundTripper

	Recorder audit.Recorder
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = DefaultAttemptTimeout
	}
	if c.BackoffMin <= 0 {
		c.BackoffMin = DefaultBackoffMin
	}
	if c.BackoffMax < c.BackoffMin {
		c.BackoffMax = DefaultBackoffMax
		if c.BackoffMax < c.BackoffMin {
			c.BackoffMax = c.BackoffMin
		}
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.Transport == nil {
		c.Transport = http.DefaultTransport
	}
	if c.Recorder == nil {
		c.Recorder = audit.Discard
	}
	return c
}

// Dispatcher sends requests on behalf of one session.
type Dispatcher struct {
	cfg    Config
	auth   Authorizer
	client *retryablehttp.Client
}

// New creates a dispatcher that authenticates through auth.
func New(auth Authorizer, cfg Config) (*Dispatcher, error) {
	if auth == nil {
		return nil, errors.New("authorizer is required")
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("base URL is required")
	}
	cfg = cfg.withDefaults()
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{
		Transport: &auditTransport{base: cfg.Transport, recorder: cfg.Recorder},
		Timeout:   cfg.AttemptTimeout,
	}
	rc.RetryMax = cfg.MaxAttempts - 1
	rc.RetryWaitMin = cfg.BackoffMin
	rc.RetryWaitMax = cfg.BackoffMax
	rc.Backoff = retryablehttp.DefaultBackoff
	rc.CheckRetry = checkRetry
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = logging.Logger().With("subsystem", "Dispatch")
	rc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			logging.Debug("Dispatch", "Retrying %s %s (attempt %d of %d)", req.Method, req.URL.Path, attempt+1, cfg.MaxAttempts)
		}
	}

	return &Dispatcher{cfg: cfg, auth: auth, client: rc}, nil
}

// BaseURL returns the URL requests are resolved against.
func (d *Dispatcher) BaseURL() string {
	return d.cfg.BaseURL
}

// checkRetry retries connection errors, timeouts, 429 and 5xx. A 401 is
// never retried here: it needs a new token, not the same request again.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if resp != nil && resp.StatusCode == http.StatusUnauthorized {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// Send performs req and returns its 2xx response.
func (d *Dispatcher) Send(ctx context.Context, req Request) (*Response, error) {
	return d.call(ctx, req, nil)
}

// SendJSON performs req and decodes the JSON response body into out.
func (d *Dispatcher) SendJSON(ctx context.Context, req Request, out interface{}) error {
	_, err := d.call(ctx, req, func(resp *Response) error {
		return resp.Decode(out)
	})
	return err
}

// call wraps one logical request in a caller out/in audit pair.
func (d *Dispatcher) call(ctx context.Context, req Request, decode func(*Response) error) (*Response, error) {
	id := uuid.NewString()
	summary := req.summary(id)
	d.record(audit.SideCaller, req.caller(), audit.DirectionOut, summary, "pending")

	resp, err := d.send(withRequestID(ctx, id), req)
	if err == nil && decode != nil {
		err = decode(resp)
	}

	status := "ok"
	switch {
	case err != nil:
		status = "error: " + apierror.KindOf(err).String()
		logging.Debug("Dispatch", "%s %s failed: %v", req.method(), req.Path, err)
	case resp != nil:
		status = audit.StatusCode(resp.StatusCode)
	}
	d.record(audit.SideCaller, req.caller(), audit.DirectionIn, summary, status)

	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (d *Dispatcher) send(ctx context.Context, req Request) (*Response, error) {
	if err := d.auth.EnsureValid(ctx); err != nil {
		return nil, err
	}

	token := d.auth.AccessToken()
	resp, err := d.exchange(ctx, req, token)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		logging.Debug("Dispatch", "%s %s denied with a validated token, refreshing once", req.method(), req.Path)
		if err := d.auth.RefreshIfCurrent(ctx, token); err != nil {
			return nil, err
		}
		resp, err = d.exchange(ctx, req, d.auth.AccessToken())
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return nil, apierror.WithStatus(apierror.KindReauthorizationRequired, apierror.StepDispatch,
				resp.StatusCode, &BodyError{
					Err:     errors.New("authorization denied after token refresh"),
					Snippet: pkgstrings.Snippet(resp.Body),
				})
		}
	}

	if err := classifyStatus(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// exchange performs one transport call, including its transient retries.
func (d *Dispatcher) exchange(ctx context.Context, req Request, token string) (*Response, error) {
	var body interface{}
	if len(req.Body) > 0 {
		body = req.Body
	}

	target := d.cfg.BaseURL + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	rreq, err := retryablehttp.NewRequestWithContext(ctx, req.method(), target, body)
	if err != nil {
		return nil, apierror.New(apierror.KindRequestRejected, apierror.StepDispatch,
			fmt.Errorf("invalid request: %w", err))
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			rreq.Header.Add(k, v)
		}
	}
	rreq.Header.Set("Authorization", "Bearer "+token)
	if rreq.Header.Get("Accept") == "" {
		rreq.Header.Set("Accept", "application/json")
	}

	resp, err := d.client.Do(rreq)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, apierror.New(apierror.KindTimeout, apierror.StepDispatch, ctxErr)
		}
		return nil, apierror.FromTransport(apierror.StepDispatch, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, apierror.FromTransport(apierror.StepDispatch, fmt.Errorf("failed to read response body: %w", err))
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       bytes.TrimSpace(data),
	}, nil
}

// classifyStatus maps a final non-2xx status to an error kind.
func classifyStatus(resp *Response) error {
	code := resp.StatusCode
	if code >= 200 && code < 300 {
		return nil
	}

	cause := &BodyError{
		Err:     fmt.Errorf("unexpected status %d %s", code, http.StatusText(code)),
		Snippet: pkgstrings.Snippet(resp.Body),
	}
	switch {
	case code == http.StatusTooManyRequests:
		return apierror.WithStatus(apierror.KindRateLimited, apierror.StepDispatch, code, cause)
	case code >= 500:
		return apierror.WithStatus(apierror.KindTransport, apierror.StepDispatch, code, cause)
	default:
		return apierror.WithStatus(apierror.KindRequestRejected, apierror.StepDispatch, code, cause)
	}
}

func (d *Dispatcher) record(side audit.Side, peer string, dir audit.Direction, summary, status string) {
	d.cfg.Recorder.Record(audit.Record{
		Side:      side,
		Peer:      peer,
		Direction: dir,
		Summary:   summary,
		Status:    status,
	})
}
