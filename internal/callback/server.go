// Package callback receives the identity provider's authorization redirect on
// a loopback listener and opens the user's browser.
package callback

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"tsapi/pkg/logging"
)

// DefaultTimeout is how long login waits for the redirect.
const DefaultTimeout = 10 * time.Minute

//go:embed templates/success.html
var successHTML string

//go:embed templates/error.html
var errorHTML string

var (
	successPage = template.Must(template.New("success").Parse(successHTML))
	errorPage   = template.Must(template.New("error").Parse(errorHTML))
)

// ErrNotLoopback is returned when the callback domain does not point at this
// machine, so nothing local can receive the redirect.
var ErrNotLoopback = errors.New("callback domain is not a loopback URL")

// Result is the redirect the provider sent the browser to.
type Result struct {
	// RedirectURL is the full URL the browser was redirected to, suitable for
	// auth.Session.CompleteAuthorization.
	RedirectURL string

	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// IsError reports whether the provider denied the authorization.
func (r *Result) IsError() bool {
	return r.Error != ""
}

// Server is a one-shot HTTP listener for the authorization redirect.
type Server struct {
	callbackURL *url.URL
	server      *http.Server
	listener    net.Listener
	resultCh    chan *Result
	errorCh     chan error
	once        sync.Once
	stopOnce    sync.Once
}

// IsLoopback reports whether callbackDomain is an http URL on localhost.
func IsLoopback(callbackDomain string) bool {
	_, err := parseLoopback(callbackDomain)
	return err == nil
}

func parseLoopback(callbackDomain string) (*url.URL, error) {
	u, err := url.Parse(callbackDomain)
	if err != nil {
		return nil, fmt.Errorf("invalid callback domain %q: %w", callbackDomain, err)
	}
	if u.Scheme != "http" {
		return nil, fmt.Errorf("%w: %s", ErrNotLoopback, callbackDomain)
	}
	host := u.Hostname()
	if host != "localhost" {
		ip := net.ParseIP(host)
		if ip == nil || !ip.IsLoopback() {
			return nil, fmt.Errorf("%w: %s", ErrNotLoopback, callbackDomain)
		}
	}
	return u, nil
}

// NewServer prepares a listener for callbackDomain, which must be a loopback
// http URL such as http://localhost:3000. The listener binds the URL's port
// and serves the URL's path.
func NewServer(callbackDomain string) (*Server, error) {
	u, err := parseLoopback(callbackDomain)
	if err != nil {
		return nil, err
	}
	return &Server{
		callbackURL: u,
		resultCh:    make(chan *Result, 1),
		errorCh:     make(chan error, 1),
	}, nil
}

// Start begins listening. The server stops when ctx is done.
func (s *Server) Start(ctx context.Context) error {
	port := s.callbackURL.Port()
	if port == "" {
		port = "80"
	}
	addr := net.JoinHostPort("127.0.0.1", port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start callback server on %s: %w", addr, err)
	}
	s.listener = listener

	path := s.callbackURL.Path
	if path == "" {
		path = "/"
	}
	mux := http.NewServeMux()
	mux.HandleFunc(path, s.handleCallback)

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case s.errorCh <- err:
			default:
			}
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	logging.Debug("Callback", "Listening for the authorization redirect on %s%s", listener.Addr(), path)
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Wait blocks until the redirect arrives, the server fails or ctx is done.
func (s *Server) Wait(ctx context.Context) (*Result, error) {
	select {
	case result := <-s.resultCh:
		return result, nil
	case err := <-s.errorCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	// Browsers probe for favicons on the same origin.
	if r.URL.Path != s.path() {
		http.NotFound(w, r)
		return
	}

	var handled bool
	s.once.Do(func() {
		handled = true
		s.processCallback(w, r)
	})
	if !handled {
		http.Error(w, "Callback already processed", http.StatusBadRequest)
	}
}

func (s *Server) path() string {
	if s.callbackURL.Path == "" {
		return "/"
	}
	return s.callbackURL.Path
}

func (s *Server) processCallback(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'unsafe-inline'")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store")

	query := r.URL.Query()
	redirect := *s.callbackURL
	redirect.Path = r.URL.Path
	redirect.RawQuery = r.URL.RawQuery
	redirect.Fragment = ""

	result := &Result{
		RedirectURL:      redirect.String(),
		Code:             query.Get("code"),
		State:            query.Get("state"),
		Error:            query.Get("error"),
		ErrorDescription: query.Get("error_description"),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	var err error
	if result.IsError() {
		err = errorPage.Execute(w, map[string]string{
			"Error":       result.Error,
			"Description": result.ErrorDescription,
		})
	} else {
		err = successPage.Execute(w, nil)
	}
	if err != nil {
		logging.Warn("Callback", "Failed to render callback page: %v", err)
	}

	select {
	case s.resultCh <- result:
	default:
	}

	// Give the browser time to receive the page before closing.
	go func() {
		time.Sleep(time.Second)
		s.Stop()
	}()
}

// Stop shuts the server down. It is safe to call more than once.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		if s.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = s.server.Shutdown(ctx)
		}
		if s.listener != nil {
			_ = s.listener.Close()
		}
	})
}
