package auth

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

type callbackPhase int

const (
	awaitingCallback callbackPhase = iota
	handlingCallback
	settled
)

type callbackOutcome struct {
	cred *Credential
	err  error
}

// exchangeFunc trades an authorization code for a credential and persists it.
type exchangeFunc func(ctx context.Context, code string) (*Credential, error)

// callbackServer accepts exactly one meaningful redirect. The first request carrying the
// expected state and either code or error claims the server; every later request is refused.
type callbackServer struct {
	path     string
	state    string
	exchange exchangeFunc
	baseCtx  context.Context
	log      *zap.SugaredLogger

	mu    sync.Mutex
	phase callbackPhase
	done  chan callbackOutcome

	ln  net.Listener
	srv *http.Server
}

func bindCallback(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("%w: %s", ErrPortInUse, addr)
		}
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return ln, nil
}

func newCallbackServer(ctx context.Context, ln net.Listener, path, state string, exchange exchangeFunc, log *zap.SugaredLogger) *callbackServer {
	s := &callbackServer{
		path:     path,
		state:    state,
		exchange: exchange,
		baseCtx:  context.WithoutCancel(ctx),
		log:      log,
		done:     make(chan callbackOutcome, 1),
		ln:       ln,
	}
	s.srv = &http.Server{Handler: s, ReadHeaderTimeout: 10 * time.Second}
	return s
}

func (s *callbackServer) serve() {
	if err := s.srv.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warnw("callback listener stopped", "error", err)
		s.settle(callbackOutcome{err: fmt.Errorf("callback listener: %w", err)})
	}
}

func (s *callbackServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != s.path {
		http.NotFound(w, r)
		return
	}
	q := r.URL.Query()
	code, providerErr := q.Get("code"), q.Get("error")
	if code == "" && providerErr == "" {
		http.Error(w, "missing code or error parameter", http.StatusBadRequest)
		return
	}
	if q.Get("state") != s.state {
		s.log.Warnw("ignoring callback with unexpected state", "remote", r.RemoteAddr)
		http.Error(w, "state mismatch", http.StatusBadRequest)
		return
	}

	if !s.claim() {
		http.Error(w, "authorization already handled", http.StatusGone)
		return
	}

	var outcome callbackOutcome
	switch {
	case providerErr != "":
		outcome.err = &AuthorizationDeniedError{Reason: providerErr}
	default:
		cred, err := s.exchange(s.baseCtx, code)
		if err != nil {
			outcome.err = fmt.Errorf("%w: %w", ErrTokenExchangeFailed, err)
		} else {
			outcome.cred = cred
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Connection", "close")
	if outcome.err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_ = failurePage.Execute(w, outcome.err.Error())
	} else {
		_ = successPage.Execute(w, nil)
	}
	s.settle(outcome)
}

func (s *callbackServer) claim() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != awaitingCallback {
		return false
	}
	s.phase = handlingCallback
	return true
}

// settle records the outcome once; later calls are dropped.
func (s *callbackServer) settle(o callbackOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == settled {
		return
	}
	s.phase = settled
	s.done <- o
}

// abandon settles a callback that never arrived. It loses to a request already being handled.
func (s *callbackServer) abandon(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != awaitingCallback {
		return false
	}
	s.phase = settled
	s.done <- callbackOutcome{err: err}
	return true
}

// wait blocks for the outcome, a timeout (0 disables) or ctx cancellation, then closes the listener.
func (s *callbackServer) wait(ctx context.Context, timeout time.Duration) (*Credential, error) {
	defer s.shutdown()

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case o := <-s.done:
		return o.cred, o.err
	case <-timer:
		s.abandon(fmt.Errorf("%w after %s", ErrCallbackTimeout, timeout))
	case <-ctx.Done():
		s.abandon(fmt.Errorf("authorization canceled: %w", ctx.Err()))
	}
	o := <-s.done
	return o.cred, o.err
}

func (s *callbackServer) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		_ = s.srv.Close()
	}
}

var successPage = template.Must(template.New("success").Parse(`<!doctype html>
<html><head><title>Authorized</title></head>
<body><h2>Authorization complete</h2><p>You can close this window and return to the terminal.</p></body></html>
`))

var failurePage = template.Must(template.New("failure").Parse(`<!doctype html>
<html><head><title>Authorization failed</title></head>
<body><h2>Authorization failed</h2><p>{{.}}</p><p>Return to the terminal for details.</p></body></html>
`))
