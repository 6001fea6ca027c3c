package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// DefaultCallbackTimeout bounds how long a consent screen may stay open.
const DefaultCallbackTimeout = 5 * time.Minute

// ProbeFunc issues a minimal authenticated request with hc and reports whether it was accepted.
type ProbeFunc func(ctx context.Context, hc *http.Client) error

// Options configures a Flow.
type Options struct {
	OAuth           *oauth2.Config
	Store           Store
	Probe           ProbeFunc
	OpenBrowser     func(url string) error
	CallbackTimeout time.Duration
	Out             io.Writer
	Log             *zap.SugaredLogger
}

// Session is the authorised context threaded through every API call site.
type Session struct {
	Client *http.Client
	source oauth2.TokenSource
}

// Token returns the current token, refreshing it if needed.
func (s *Session) Token() (*oauth2.Token, error) {
	return s.source.Token()
}

// Flow drives the OAuth2 authorization-code exchange and keeps the resulting session.
type Flow struct {
	oauth    *oauth2.Config
	store    Store
	probe    ProbeFunc
	open     func(string) error
	timeout  time.Duration
	out      io.Writer
	log      *zap.SugaredLogger
	redirect *url.URL

	group   singleflight.Group
	mu      sync.Mutex
	session *Session
}

func NewFlow(opts Options) (*Flow, error) {
	if opts.OAuth == nil {
		return nil, errors.New("oauth config is required")
	}
	if opts.Store == nil {
		return nil, errors.New("credential store is required")
	}
	if opts.Probe == nil {
		return nil, errors.New("probe is required")
	}
	u, err := url.Parse(opts.OAuth.RedirectURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid redirect URI %q", opts.OAuth.RedirectURL)
	}
	if u.Scheme != "http" {
		return nil, fmt.Errorf("redirect URI %q must use http on a local address", opts.OAuth.RedirectURL)
	}
	if u.Port() == "" {
		u.Host += ":80"
	}
	if u.Path == "" {
		u.Path = "/"
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop().Sugar()
	}
	if opts.OpenBrowser == nil {
		opts.OpenBrowser = func(string) error { return errors.New("no browser launcher configured") }
	}
	return &Flow{
		oauth:    opts.OAuth,
		store:    opts.Store,
		probe:    opts.Probe,
		open:     opts.OpenBrowser,
		timeout:  opts.CallbackTimeout,
		out:      opts.Out,
		log:      opts.Log,
		redirect: u,
	}, nil
}

// EnsureAuthorized returns a session whose credential the provider currently accepts.
// It is safe to call before every API operation: a live session costs one probe request.
// Concurrent callers share a single in-flight attempt, so at most one listener is ever bound.
func (f *Flow) EnsureAuthorized(ctx context.Context) (*Session, error) {
	v, err, _ := f.group.Do("authorize", func() (any, error) {
		return f.ensure(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (f *Flow) ensure(ctx context.Context) (*Session, error) {
	session := f.current()
	if session == nil {
		if cred, ok := f.store.Load(); ok {
			session = f.newSession(ctx, cred)
		}
	}

	if session != nil {
		err := f.probe(ctx, session.Client)
		if err == nil {
			f.setCurrent(session)
			return session, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		f.log.Warnw("re-authorizing", "reason", fmt.Errorf("%w: %w", ErrCredentialInvalid, err))
		f.setCurrent(nil)
	}

	cred, err := f.authorize(ctx)
	if err != nil {
		return nil, err
	}
	session = f.newSession(ctx, cred)
	f.setCurrent(session)
	return session, nil
}

func (f *Flow) authorize(ctx context.Context) (*Credential, error) {
	ln, err := bindCallback(f.redirect.Host)
	if err != nil {
		return nil, err
	}

	state := uuid.NewString()
	authURL := f.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)

	srv := newCallbackServer(ctx, ln, f.redirect.Path, state, f.exchange, f.log)
	go srv.serve()

	fmt.Fprintf(f.out, "🔐 Authorize access in your browser:\n%s\n", authURL)
	if err := f.open(authURL); err != nil {
		f.log.Warnw("could not launch browser, open the URL manually", "error", err)
	}
	f.log.Infow("waiting for authorization callback", "listen", f.redirect.Host, "timeout", f.timeout)

	cred, err := srv.wait(ctx, f.timeout)
	if err != nil {
		return nil, err
	}
	fmt.Fprintln(f.out, "✅ Authorization complete")
	return cred, nil
}

func (f *Flow) exchange(ctx context.Context, code string) (*Credential, error) {
	tok, err := f.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	if tok.RefreshToken == "" {
		f.log.Warnw("provider returned no refresh token; the next expiry will need a new consent")
	}
	cred := FromToken(tok, f.oauth.Scopes)
	if err := f.store.Save(cred); err != nil {
		// The token is still good for this run; only a restart will need consent again.
		f.log.Errorw("failed to persist credential", "error", err)
	}
	return cred, nil
}

// Reset forgets the in-memory session and the stored credential.
func (f *Flow) Reset() error {
	f.setCurrent(nil)
	return f.store.Clear()
}

func (f *Flow) newSession(ctx context.Context, cred *Credential) *Session {
	refreshCtx := context.WithoutCancel(ctx)
	src := &persistingSource{
		base:   f.oauth.TokenSource(refreshCtx, cred.Token()),
		store:  f.store,
		scopes: cred.Scope,
		last:   cred.Token(),
		log:    f.log,
	}
	return &Session{Client: oauth2.NewClient(refreshCtx, src), source: src}
}

func (f *Flow) current() *Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session
}

func (f *Flow) setCurrent(s *Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session = s
}

// persistingSource saves every token the transport obtains by refresh, so a rotated
// refresh token survives a restart.
type persistingSource struct {
	base   oauth2.TokenSource
	store  Store
	scopes []string
	log    *zap.SugaredLogger

	mu   sync.Mutex
	last *oauth2.Token
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last != nil && tok.AccessToken == p.last.AccessToken &&
		(tok.RefreshToken == "" || tok.RefreshToken == p.last.RefreshToken) {
		return tok, nil
	}
	cred := FromToken(tok, p.scopes)
	if cred.RefreshToken == "" && p.last != nil {
		cred.RefreshToken = p.last.RefreshToken
	}
	if err := p.store.Save(cred); err != nil {
		p.log.Errorw("failed to persist refreshed credential", "error", err)
	} else {
		p.log.Debugw("refreshed credential persisted", "expiry", tok.Expiry)
	}
	p.last = cred.Token()
	return tok, nil
}
