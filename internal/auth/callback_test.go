package auth

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCallback(t *testing.T, exchange exchangeFunc) *callbackServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := newCallbackServer(context.Background(), ln, "/cb", "nonce", exchange, zap.NewNop().Sugar())
	t.Cleanup(func() {
		s.shutdown()
		_ = ln.Close()
	})
	return s
}

func serveOnce(s *callbackServer, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestCallbackIgnoresUnrelatedRequests(t *testing.T) {
	var calls atomic.Int32
	s := newTestCallback(t, func(ctx context.Context, code string) (*Credential, error) {
		calls.Add(1)
		return sampleCredential(), nil
	})

	assert.Equal(t, http.StatusNotFound, serveOnce(s, "/favicon.ico").Code)
	assert.Equal(t, http.StatusBadRequest, serveOnce(s, "/cb").Code)
	assert.Equal(t, http.StatusBadRequest, serveOnce(s, "/cb?code=x&state=forged").Code)
	assert.EqualValues(t, 0, calls.Load())
	assert.Equal(t, awaitingCallback, s.phase)
}

func TestCallbackSettlesOnce(t *testing.T) {
	var calls atomic.Int32
	s := newTestCallback(t, func(ctx context.Context, code string) (*Credential, error) {
		calls.Add(1)
		assert.Equal(t, "abc", code)
		return sampleCredential(), nil
	})

	first := serveOnce(s, "/cb?code=abc&state=nonce")
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Contains(t, first.Body.String(), "Authorization complete")

	second := serveOnce(s, "/cb?code=abc&state=nonce")
	assert.Equal(t, http.StatusGone, second.Code)
	assert.EqualValues(t, 1, calls.Load())

	cred, err := s.wait(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "at", cred.AccessToken)
}

func TestCallbackFailurePageEscapesProviderError(t *testing.T) {
	s := newTestCallback(t, nil)

	rec := serveOnce(s, "/cb?error=%3Cscript%3E&state=nonce")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotContains(t, rec.Body.String(), "<script>")

	_, err := s.wait(context.Background(), time.Second)
	var denied *AuthorizationDeniedError
	require.True(t, errors.As(err, &denied))
	assert.Equal(t, "<script>", denied.Reason)
}

func TestCallbackLateRequestAfterTimeout(t *testing.T) {
	s := newTestCallback(t, func(ctx context.Context, code string) (*Credential, error) {
		t.Fatal("exchange must not run after the flow gave up")
		return nil, nil
	})

	_, err := s.wait(context.Background(), 10*time.Millisecond)
	require.ErrorIs(t, err, ErrCallbackTimeout)
	assert.Equal(t, http.StatusGone, serveOnce(s, "/cb?code=late&state=nonce").Code)
}
