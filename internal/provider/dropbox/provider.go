// Package dropbox implements the Dropbox-style storage backend: small files
// in one content request, large files through an upload session appended in
// fixed chunks and finalized by an explicit commit naming the target path
// and collision policy.
package dropbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/dmarchuk/shuttersync/internal/common"
	"github.com/dmarchuk/shuttersync/internal/logging"
	"github.com/dmarchuk/shuttersync/internal/netx"
	"github.com/dmarchuk/shuttersync/internal/provider"
)

const (
	// DefaultEndpoint is the production content host; tests point it at
	// an httptest server.
	DefaultEndpoint = "https://content.dropboxapi.com"

	defaultSimpleThreshold = 8 << 20
	defaultChunkSize       = 8 << 20
)

// ProviderID is the backend id tasks reference.
const ProviderID = "dropbox"

type Options struct {
	Endpoint        string
	HTTPClient      *http.Client
	SimpleThreshold int64
	ChunkSize       int64

	// Commit controls the finalize call's collision and notification
	// policy. The zero value means no auto-rename and no muting.
	Commit provider.CommitOptions
}

type Provider struct {
	endpoint  string
	client    *http.Client
	tokens    *provider.TokenStore
	prompt    provider.TokenPrompt
	log       logging.Logger
	threshold int64
	chunkSize int64
	commit    provider.CommitOptions
	now       func() time.Time
}

func New(tokens *provider.TokenStore, prompt provider.TokenPrompt, log logging.Logger, opts Options) *Provider {
	p := &Provider{
		endpoint:  DefaultEndpoint,
		client:    http.DefaultClient,
		tokens:    tokens,
		prompt:    prompt,
		log:       log.With("backend", ProviderID),
		threshold: defaultSimpleThreshold,
		chunkSize: defaultChunkSize,
		commit:    opts.Commit,
		now:       time.Now,
	}
	if opts.Endpoint != "" {
		p.endpoint = opts.Endpoint
	}
	if opts.HTTPClient != nil {
		p.client = opts.HTTPClient
	}
	if opts.SimpleThreshold > 0 {
		p.threshold = opts.SimpleThreshold
	}
	if opts.ChunkSize > 0 {
		p.chunkSize = opts.ChunkSize
	}
	return p
}

func (p *Provider) ProviderID() string  { return ProviderID }
func (p *Provider) DisplayName() string { return "Dropbox" }

func (p *Provider) Authenticate(ctx context.Context) (bool, error) {
	if p.prompt == nil {
		return false, nil
	}
	access, err := p.prompt(ctx, ProviderID)
	if err != nil {
		return false, fmt.Errorf("token prompt: %w", err)
	}
	if access == "" {
		return false, nil
	}
	if err := p.tokens.Save(ProviderID, &provider.Token{AccessToken: access}); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Provider) IsAuthenticated() bool {
	t, err := p.tokens.Load(ProviderID)
	if err != nil {
		return false
	}
	return t.Valid(p.now())
}

func (p *Provider) SignOut() error {
	return p.tokens.Clear(ProviderID)
}

// commitInfo is the finalize policy serialized into API arguments.
type commitInfo struct {
	Path       string `json:"path"`
	Mode       string `json:"mode"`
	AutoRename bool   `json:"autorename"`
	Mute       bool   `json:"mute"`
}

func (p *Provider) commitFor(fileName string) commitInfo {
	return commitInfo{
		Path:       "/" + fileName,
		Mode:       "add",
		AutoRename: p.commit.AutoRename,
		Mute:       p.commit.MuteNotifications,
	}
}

func (p *Provider) Upload(ctx context.Context, req provider.UploadRequest) error {
	size, err := provider.SourceSize(req.FilePath)
	if err != nil {
		return err
	}
	token, err := p.tokens.Load(ProviderID)
	if err != nil || !token.Valid(p.now()) {
		return common.ErrNotAuthenticated
	}
	if size <= p.threshold {
		return p.uploadSimple(ctx, token, req, size)
	}
	return p.uploadSession(ctx, token, req, size)
}

func (p *Provider) uploadSimple(ctx context.Context, token *provider.Token, req provider.UploadRequest, size int64) error {
	data, err := os.ReadFile(req.FilePath)
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}

	resp, err := p.contentCall(ctx, token, "/2/files/upload", p.commitFor(req.FileName), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("simple upload: %w", err)
	}
	defer netx.DrainClose(resp)
	if err := netx.CheckStatus(resp, http.StatusOK); err != nil {
		return fmt.Errorf("simple upload: %w", err)
	}

	if req.OnProgress != nil {
		if err := req.OnProgress(size, size, ""); err != nil {
			return err
		}
	}
	return nil
}

// uploadSession drives the three phases: start (unless a session id was
// carried over), append loop at explicit offsets, explicit finish commit.
func (p *Provider) uploadSession(ctx context.Context, token *provider.Token, req provider.UploadRequest, size int64) error {
	sessionID := req.ResumeToken
	offset := req.StartByte

	if sessionID == "" {
		id, err := p.startSession(ctx, token)
		if err != nil {
			return err
		}
		sessionID = id
		offset = 0
		// Persist the handle before the first append; a crash here must
		// leave a resumable session on record.
		if req.OnProgress != nil {
			if err := req.OnProgress(0, size, sessionID); err != nil {
				return err
			}
		}
	}

	f, err := os.Open(req.FilePath)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer f.Close()

	buf := make([]byte, p.chunkSize)
	for offset < size {
		n := p.chunkSize
		if size-offset < n {
			n = size - offset
		}
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return fmt.Errorf("seek source: %w", err)
		}
		if _, err := io.ReadFull(f, buf[:n]); err != nil {
			return fmt.Errorf("read chunk at %d: %w", offset, err)
		}

		if err := p.appendChunk(ctx, token, sessionID, offset, buf[:n]); err != nil {
			return err
		}
		offset += n
		if req.OnProgress != nil {
			if perr := req.OnProgress(offset, size, sessionID); perr != nil {
				return perr
			}
		}
	}

	if err := p.finishSession(ctx, token, sessionID, size, req.FileName); err != nil {
		return err
	}
	if req.OnProgress != nil {
		return req.OnProgress(size, size, sessionID)
	}
	return nil
}

type sessionCursor struct {
	SessionID string `json:"session_id"`
	Offset    int64  `json:"offset"`
}

func (p *Provider) startSession(ctx context.Context, token *provider.Token) (string, error) {
	resp, err := p.contentCall(ctx, token, "/2/files/upload_session/start",
		map[string]any{"close": false}, bytes.NewReader(nil))
	if err != nil {
		return "", fmt.Errorf("start session: %w", err)
	}
	defer netx.DrainClose(resp)
	if err := netx.CheckStatus(resp, http.StatusOK); err != nil {
		return "", fmt.Errorf("start session: %w", err)
	}

	var out struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("start session: decode response: %w", err)
	}
	if out.SessionID == "" {
		return "", fmt.Errorf("start session: empty session id")
	}
	return out.SessionID, nil
}

func (p *Provider) appendChunk(ctx context.Context, token *provider.Token, sessionID string, offset int64, chunk []byte) error {
	arg := map[string]any{
		"cursor": sessionCursor{SessionID: sessionID, Offset: offset},
		"close":  false,
	}
	resp, err := p.contentCall(ctx, token, "/2/files/upload_session/append_v2", arg, bytes.NewReader(chunk))
	if err != nil {
		return fmt.Errorf("append at %d: %w", offset, err)
	}
	defer netx.DrainClose(resp)
	if err := netx.CheckStatus(resp, http.StatusOK); err != nil {
		return fmt.Errorf("append at %d: %w", offset, err)
	}
	return nil
}

func (p *Provider) finishSession(ctx context.Context, token *provider.Token, sessionID string, size int64, fileName string) error {
	arg := map[string]any{
		"cursor": sessionCursor{SessionID: sessionID, Offset: size},
		"commit": p.commitFor(fileName),
	}
	resp, err := p.contentCall(ctx, token, "/2/files/upload_session/finish", arg, bytes.NewReader(nil))
	if err != nil {
		return fmt.Errorf("finish session: %w", err)
	}
	defer netx.DrainClose(resp)
	if err := netx.CheckStatus(resp, http.StatusOK); err != nil {
		return fmt.Errorf("finish session: %w", err)
	}
	return nil
}

// contentCall issues a content-endpoint request with the JSON argument in
// the Dropbox-API-Arg header and the payload in the body.
func (p *Provider) contentCall(ctx context.Context, token *provider.Token, path string, arg any, body io.Reader) (*http.Response, error) {
	argJSON, err := json.Marshal(arg)
	if err != nil {
		return nil, fmt.Errorf("encode api arg: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+path, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+token.AccessToken)
	httpReq.Header.Set("Dropbox-API-Arg", string(argJSON))
	httpReq.Header.Set("Content-Type", "application/octet-stream")
	return p.client.Do(httpReq)
}
