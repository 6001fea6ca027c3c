package app

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/FarhadManiCodes/inbox-attachments/internal/auth"
	"github.com/FarhadManiCodes/inbox-attachments/internal/config"
)

const testConfig = `
oauth:
  client_id: test-client
  client_secret: test-secret
  redirect_uri: http://127.0.0.1:8085/callback
gmail:
  token_file: /state/token.json
  requests_per_minute: 6000
filters:
  extensions: [".json"]
download:
  base_dir: /downloads
drive:
  folder_name: Exports
`

type gmailMessage struct {
	id    string
	files map[string]string // attachment id -> filename
}

// fakeGoogle serves just enough of the Gmail and Drive REST APIs for the commands.
type fakeGoogle struct {
	messages []gmailMessage

	mu          sync.Mutex
	queries     []string
	probes      int
	attachments int
	uploads     []string

	afterAttachment func()
}

func (g *fakeGoogle) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /gmail/v1/users/me/messages", g.list)
	mux.HandleFunc("GET /gmail/v1/users/me/messages/{id}", g.get)
	mux.HandleFunc("GET /gmail/v1/users/me/messages/{id}/attachments/{aid}", g.attachment)
	mux.HandleFunc("/", g.drive)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer seeded-token" {
			http.Error(w, `{"error":{"code":401,"message":"unauthenticated"}}`, http.StatusUnauthorized)
			return
		}
		mux.ServeHTTP(w, r)
	})
}

func (g *fakeGoogle) list(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	if r.URL.Query().Get("maxResults") == "1" && r.URL.Query().Get("q") == "" {
		g.probes++
	} else {
		g.queries = append(g.queries, r.URL.Query().Get("q"))
	}
	g.mu.Unlock()

	var refs []map[string]string
	for _, m := range g.messages {
		refs = append(refs, map[string]string{"id": m.id, "threadId": "t-" + m.id})
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"messages": refs, "resultSizeEstimate": len(refs)})
}

func (g *fakeGoogle) get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	for _, m := range g.messages {
		if m.id != id {
			continue
		}
		parts := []map[string]any{{"partId": "0", "mimeType": "text/plain", "body": map[string]any{"size": 5}}}
		for aid, name := range m.files {
			parts = append(parts, map[string]any{
				"partId":   aid,
				"filename": name,
				"mimeType": "application/octet-stream",
				"body":     map[string]any{"attachmentId": aid, "size": 7},
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":       m.id,
			"threadId": "t-" + m.id,
			"payload": map[string]any{
				"mimeType": "multipart/mixed",
				"headers":  []map[string]string{{"name": "From", "value": "Reports <reports@example.com>"}},
				"parts":    parts,
			},
		})
		return
	}
	http.Error(w, `{"error":{"code":404,"message":"not found"}}`, http.StatusNotFound)
}

func (g *fakeGoogle) attachment(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	g.attachments++
	g.mu.Unlock()
	data := "content of " + r.PathValue("aid")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"data": base64.URLEncoding.EncodeToString([]byte(data)),
		"size": len(data),
	})
	if g.afterAttachment != nil {
		g.afterAttachment()
	}
}

func (g *fakeGoogle) drive(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/files") {
		http.NotFound(w, r)
		return
	}
	if r.Method == http.MethodGet {
		_ = json.NewEncoder(w).Encode(map[string]any{"files": []any{}})
		return
	}

	meta := map[string]any{}
	if r.URL.Query().Get("uploadType") == "" {
		_ = json.NewDecoder(r.Body).Decode(&meta)
	} else {
		_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		part, err := multipart.NewReader(r.Body, params["boundary"]).NextPart()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_ = json.NewDecoder(part).Decode(&meta)
		g.mu.Lock()
		g.uploads = append(g.uploads, meta["name"].(string))
		g.mu.Unlock()
	}
	meta["id"] = "drive-" + meta["name"].(string)
	meta["webViewLink"] = "https://drive.example.com/" + meta["name"].(string)
	_ = json.NewEncoder(w).Encode(meta)
}

type googleCalls struct {
	queries     []string
	probes      int
	attachments int
	uploads     []string
}

func (g *fakeGoogle) calls() googleCalls {
	g.mu.Lock()
	defer g.mu.Unlock()
	return googleCalls{
		queries:     append([]string(nil), g.queries...),
		probes:      g.probes,
		attachments: g.attachments,
		uploads:     append([]string(nil), g.uploads...),
	}
}

type harness struct {
	fs     afero.Fs
	google *fakeGoogle
	app    *App
}

func newHarness(t *testing.T, configYAML string) *harness {
	t.Helper()
	for _, k := range []string{"GOOGLE_CLIENT_ID", "GOOGLE_CLIENT_SECRET", "GOOGLE_REDIRECT_URI"} {
		t.Setenv(k, "")
	}

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/inbox/config.yaml", []byte(configYAML), 0o600))
	store := auth.NewFileStore(fs, "/state/token.json", zap.NewNop().Sugar())
	require.NoError(t, store.Save(&auth.Credential{
		AccessToken:  "seeded-token",
		RefreshToken: "seeded-refresh",
		Expiry:       time.Now().Add(time.Hour),
		TokenType:    "Bearer",
	}))

	google := &fakeGoogle{messages: []gmailMessage{
		{id: "m1", files: map[string]string{"a1": "a.json", "c1": "c.pdf"}},
		{id: "m2"},
		{id: "m3", files: map[string]string{"d3": "d.json"}},
	}}
	srv := httptest.NewServer(google.handler())
	t.Cleanup(srv.Close)

	apiOpts := []option.ClientOption{option.WithEndpoint(srv.URL + "/")}
	app := New(
		WithFs(fs),
		WithAPIOptions(apiOpts, apiOpts),
		WithBrowser(func(string) error {
			t.Error("browser must not be opened when a valid credential is stored")
			return nil
		}),
		WithClock(func() time.Time { return time.Date(2025, time.May, 3, 10, 0, 0, 0, time.UTC) }),
	)
	return &harness{fs: fs, google: google, app: app}
}

func (h *harness) run(args ...string) (string, error) {
	return h.runContext(context.Background(), args...)
}

func (h *harness) runContext(ctx context.Context, args ...string) (string, error) {
	cmd := h.app.Command()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append(args, "--config", "/etc/inbox/config.yaml"))
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestDownloadCommand(t *testing.T) {
	h := newHarness(t, testConfig)

	out, err := h.run("download", "--month", "2025-04")
	require.NoError(t, err)
	assert.Contains(t, out, "📎 Attachments: 2/2 downloaded")
	assert.Contains(t, out, "/downloads/2025-04")

	for path, want := range map[string]string{
		"/downloads/2025-04/m1_a.json": "content of a1",
		"/downloads/2025-04/m3_d.json": "content of d3",
	} {
		got, err := afero.ReadFile(h.fs, path)
		require.NoError(t, err, path)
		assert.Equal(t, want, string(got))
	}
	exists, err := afero.Exists(h.fs, "/downloads/2025-04/m1_c.pdf")
	require.NoError(t, err)
	assert.False(t, exists)

	require.Len(t, h.google.calls().queries, 1)
	assert.Equal(t, "has:attachment after:1743465600 before:1746057600 filename:json", h.google.calls().queries[0])
	assert.Equal(t, 1, h.google.calls().probes)
}

func TestDownloadInterruptedStillReportsCounts(t *testing.T) {
	h := newHarness(t, testConfig)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var once sync.Once
	h.google.afterAttachment = func() { once.Do(cancel) }

	out, err := h.runContext(ctx, "download", "--month", "2025-04")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	assert.Contains(t, out, "⚠️  Download stopped")
	assert.Contains(t, out, "📁 Directory: /downloads/2025-04")
	assert.Contains(t, out, "📧 Messages: 3 listed, 1 processed, 1 with matching attachments")
	assert.Regexp(t, `📎 Attachments: [01]/2 downloaded`, out)
	assert.NotContains(t, out, "Download complete")
}

func TestDownloadCommandFlagsOverrideConfig(t *testing.T) {
	h := newHarness(t, testConfig)

	out, err := h.run("download", "--from", "2025-04-01", "--to", "2025-04-15",
		"--ext", "pdf,json", "--output", "/elsewhere", "--organize-by", "message")
	require.NoError(t, err)
	assert.Contains(t, out, "3/3 downloaded")

	for _, path := range []string{
		"/elsewhere/20250401-20250415/m1/a.json",
		"/elsewhere/20250401-20250415/m1/c.pdf",
		"/elsewhere/20250401-20250415/m3/d.json",
	} {
		exists, err := afero.Exists(h.fs, path)
		require.NoError(t, err)
		assert.True(t, exists, path)
	}
	exists, err := afero.DirExists(h.fs, "/elsewhere/20250401-20250415/m2")
	require.NoError(t, err)
	assert.False(t, exists, "messages without attachments get no folder")
}

func TestDownloadDryRun(t *testing.T) {
	h := newHarness(t, testConfig)

	out, err := h.run("download", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "(2025-05)", "defaults to the current month")
	assert.Contains(t, out, "/downloads/2025-05/m1_a.json")
	assert.Contains(t, out, "Dry run: 2 attachments from 3 messages")
	assert.Zero(t, h.google.calls().attachments)

	exists, err := afero.DirExists(h.fs, "/downloads")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDownloadRejectsBadFlags(t *testing.T) {
	h := newHarness(t, testConfig)

	_, err := h.run("download", "--month", "2025-04", "--from", "2025-04-01")
	assert.Error(t, err)
	_, err = h.run("download", "--organize-by", "date")
	assert.Error(t, err)
	_, err = h.run("download", "--sender", "nobody")
	assert.Error(t, err)
	assert.Zero(t, h.google.calls().probes)
}

func TestMissingConfigurationStopsBeforeAuthorization(t *testing.T) {
	h := newHarness(t, "download:\n  base_dir: /downloads\n")

	_, err := h.run("download", "--month", "2025-04")
	var missing *config.MissingConfigurationError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{"oauth.client_id", "oauth.client_secret", "oauth.redirect_uri"}, missing.Keys)
	assert.Zero(t, h.google.calls().probes)
}

func TestAuthCommandUsesStoredCredential(t *testing.T) {
	h := newHarness(t, testConfig)

	out, err := h.run("auth")
	require.NoError(t, err)
	assert.Contains(t, out, "✅ Authorized")
	assert.Equal(t, 1, h.google.calls().probes)
}

func TestUploadCommand(t *testing.T) {
	h := newHarness(t, testConfig)
	require.NoError(t, afero.WriteFile(h.fs, "/downloads/2025-04/m1_a.json", []byte("a"), 0o644))
	require.NoError(t, afero.WriteFile(h.fs, "/downloads/2025-04/m3_d.json", []byte("d"), 0o644))

	out, err := h.run("upload", "/downloads/2025-04")
	require.NoError(t, err)
	assert.Contains(t, out, `Uploaded 2 files to "Exports"`)
	assert.Contains(t, out, "https://drive.example.com/m1_a.json")
	assert.ElementsMatch(t, []string{"m1_a.json", "m3_d.json"}, h.google.calls().uploads)
}

func TestUploadCommandNeedsDirectory(t *testing.T) {
	h := newHarness(t, testConfig)

	_, err := h.run("upload")
	assert.Error(t, err)
}

func TestConfigShowMasksSecret(t *testing.T) {
	h := newHarness(t, testConfig)

	out, err := h.run("config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "# /etc/inbox/config.yaml")
	assert.Contains(t, out, "client_id: test-client")
	assert.NotContains(t, out, "test-secret")
}

func TestConfigInit(t *testing.T) {
	h := newHarness(t, testConfig)

	out, err := h.run("config", "init", "/tmp/new/config.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote /tmp/new/config.yaml")

	data, err := afero.ReadFile(h.fs, "/tmp/new/config.yaml")
	require.NoError(t, err)
	assert.Contains(t, string(data), "requests_per_minute: 250")
}

func TestResolveWindow(t *testing.T) {
	now := time.Date(2025, time.May, 3, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name      string
		month     string
		from, to  string
		wantLabel string
		wantErr   bool
	}{
		{name: "default month", wantLabel: "2025-05"},
		{name: "explicit month", month: "2025-04", wantLabel: "2025-04"},
		{name: "range", from: "2025-04-01", to: "2025-04-15", wantLabel: "20250401-20250415"},
		{name: "full month range", from: "2025-04-01", to: "2025-04-30", wantLabel: "2025-04"},
		{name: "half range", from: "2025-04-01", wantErr: true},
		{name: "month and range", month: "2025-04", to: "2025-04-15", wantErr: true},
		{name: "bad month", month: "April", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := resolveWindow(tt.month, tt.from, tt.to, now)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLabel, w.Label())
		})
	}
}
