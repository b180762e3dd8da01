package dropbox

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dmarchuk/shuttersync/internal/logging"
	"github.com/dmarchuk/shuttersync/internal/provider"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func authedTokens(t *testing.T) *provider.TokenStore {
	t.Helper()
	tokens := provider.NewTokenStore(t.TempDir())
	require.NoError(t, tokens.Save(ProviderID, &provider.Token{AccessToken: "tok"}))
	return tokens
}

func sourceFile(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{0xCD}, size), 0o660))
	return path
}

// fakeBox records the session calls the provider makes.
type fakeBox struct {
	started  bool
	appends  []int64 // offsets seen by append_v2
	received int64
	finish   map[string]any // decoded finish arg
	simple   bool
}

func newBoxServer(t *testing.T, box *fakeBox) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/2/files/upload", func(w http.ResponseWriter, r *http.Request) {
		box.simple = true
		body, _ := io.ReadAll(r.Body)
		box.received += int64(len(body))
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/2/files/upload_session/start", func(w http.ResponseWriter, r *http.Request) {
		box.started = true
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, `{"session_id":"sess-777"}`)
	})
	mux.HandleFunc("/2/files/upload_session/append_v2", func(w http.ResponseWriter, r *http.Request) {
		var arg struct {
			Cursor sessionCursor `json:"cursor"`
		}
		require.NoError(t, json.Unmarshal([]byte(r.Header.Get("Dropbox-API-Arg")), &arg))
		require.Equal(t, "sess-777", arg.Cursor.SessionID)
		body, _ := io.ReadAll(r.Body)
		box.appends = append(box.appends, arg.Cursor.Offset)
		box.received += int64(len(body))
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/2/files/upload_session/finish", func(w http.ResponseWriter, r *http.Request) {
		var arg map[string]any
		require.NoError(t, json.Unmarshal([]byte(r.Header.Get("Dropbox-API-Arg")), &arg))
		box.finish = arg
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newProvider(t *testing.T, endpoint string, tokens *provider.TokenStore, commit provider.CommitOptions) *Provider {
	t.Helper()
	return New(tokens, nil, testLogger(), Options{
		Endpoint:        endpoint,
		SimpleThreshold: 16,
		ChunkSize:       8,
		Commit:          commit,
	})
}

func TestUpload_SimpleSmallFile(t *testing.T) {
	box := &fakeBox{}
	srv := newBoxServer(t, box)
	p := newProvider(t, srv.URL, authedTokens(t), provider.CommitOptions{})

	err := p.Upload(context.Background(), provider.UploadRequest{
		FilePath:   sourceFile(t, 12),
		FileName:   "clip.mp4",
		OnProgress: func(_, _ int64, _ string) error { return nil },
	})
	require.NoError(t, err)
	require.True(t, box.simple)
	require.False(t, box.started)
	require.Equal(t, int64(12), box.received)
}

func TestUpload_SessionTransferAndCommit(t *testing.T) {
	box := &fakeBox{}
	srv := newBoxServer(t, box)
	p := newProvider(t, srv.URL, authedTokens(t), provider.CommitOptions{
		AutoRename:        true,
		MuteNotifications: true,
	})

	var firstToken string
	err := p.Upload(context.Background(), provider.UploadRequest{
		FilePath: sourceFile(t, 20),
		FileName: "clip.mp4",
		OnProgress: func(_, _ int64, token string) error {
			if firstToken == "" {
				firstToken = token
			}
			return nil
		},
	})
	require.NoError(t, err)

	require.Equal(t, "sess-777", firstToken, "session id published before first append")
	require.Equal(t, []int64{0, 8, 16}, box.appends)
	require.Equal(t, int64(20), box.received)

	// finalize names the target and carries the configured policy
	commit := box.finish["commit"].(map[string]any)
	require.Equal(t, "/clip.mp4", commit["path"])
	require.Equal(t, "add", commit["mode"])
	require.Equal(t, true, commit["autorename"])
	require.Equal(t, true, commit["mute"])

	cursor := box.finish["cursor"].(map[string]any)
	require.Equal(t, float64(20), cursor["offset"])
}

func TestUpload_ResumeAppendsFromStoredOffset(t *testing.T) {
	box := &fakeBox{received: 8}
	srv := newBoxServer(t, box)
	p := newProvider(t, srv.URL, authedTokens(t), provider.CommitOptions{})

	err := p.Upload(context.Background(), provider.UploadRequest{
		FilePath:    sourceFile(t, 20),
		FileName:    "clip.mp4",
		ResumeToken: "sess-777",
		StartByte:   8,
		OnProgress:  func(_, _ int64, _ string) error { return nil },
	})
	require.NoError(t, err)
	require.False(t, box.started, "resume must not open a new session")
	require.Equal(t, []int64{8, 16}, box.appends)
	require.Equal(t, int64(20), box.received)
}

func TestUpload_AppendFailureSurfaces(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/2/files/upload_session/start", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, `{"session_id":"sess-777"}`)
	})
	mux.HandleFunc("/2/files/upload_session/append_v2", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		io.WriteString(w, `{"error_summary":"incorrect_offset"}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	p := newProvider(t, srv.URL, authedTokens(t), provider.CommitOptions{})
	err := p.Upload(context.Background(), provider.UploadRequest{
		FilePath:   sourceFile(t, 20),
		FileName:   "clip.mp4",
		OnProgress: func(_, _ int64, _ string) error { return nil },
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "incorrect_offset")
}
