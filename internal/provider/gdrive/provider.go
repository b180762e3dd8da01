// Package gdrive implements the Drive-style storage backend: small files go
// up in a single multipart request, large files through a resumable upload
// session addressed by an opaque session URI.
package gdrive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"time"

	"github.com/dmarchuk/shuttersync/internal/common"
	"github.com/dmarchuk/shuttersync/internal/logging"
	"github.com/dmarchuk/shuttersync/internal/netx"
	"github.com/dmarchuk/shuttersync/internal/provider"
)

const (
	// DefaultEndpoint is the production API host; tests point it at an
	// httptest server.
	DefaultEndpoint = "https://www.googleapis.com"

	// Files above the threshold use the resumable session protocol.
	defaultSimpleThreshold = 5 << 20
	defaultChunkSize       = 8 << 20

	// statusResumeIncomplete is the non-standard code the session
	// endpoint answers for an acknowledged, non-final chunk.
	statusResumeIncomplete = 308
)

// ProviderID is the backend id tasks reference.
const ProviderID = "gdrive"

type Options struct {
	Endpoint        string
	HTTPClient      *http.Client
	SimpleThreshold int64
	ChunkSize       int64
}

type Provider struct {
	endpoint  string
	client    *http.Client
	tokens    *provider.TokenStore
	prompt    provider.TokenPrompt
	log       logging.Logger
	threshold int64
	chunkSize int64
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
func (p *Provider) DisplayName() string { return "Google Drive" }

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
	return p.uploadResumable(ctx, token, req, size)
}

// uploadSimple sends metadata and the full payload in one multipart/related
// request.
func (p *Provider) uploadSimple(ctx context.Context, token *provider.Token, req provider.UploadRequest, size int64) error {
	data, err := os.ReadFile(req.FilePath)
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	meta, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"application/json; charset=UTF-8"},
	})
	if err != nil {
		return fmt.Errorf("build metadata part: %w", err)
	}
	fmt.Fprintf(meta, `{"name":%q}`, req.FileName)

	media, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"application/octet-stream"},
	})
	if err != nil {
		return fmt.Errorf("build media part: %w", err)
	}
	if _, err := media.Write(data); err != nil {
		return fmt.Errorf("build media part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("finish multipart body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.endpoint+"/upload/drive/v3/files?uploadType=multipart", &body)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Bearer "+token.AccessToken)
	httpReq.Header.Set("Content-Type", "multipart/related; boundary="+mw.Boundary())

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("simple upload: %w", err)
	}
	defer netx.DrainClose(resp)
	if err := netx.CheckStatus(resp, http.StatusOK, http.StatusCreated); err != nil {
		return fmt.Errorf("simple upload: %w", err)
	}

	if req.OnProgress != nil {
		if err := req.OnProgress(size, size, ""); err != nil {
			return err
		}
	}
	return nil
}

// uploadResumable drives the three-phase session protocol: initiate (unless
// a session URI was carried over), chunk loop with explicit byte ranges,
// implicit finalize on the last chunk.
func (p *Provider) uploadResumable(ctx context.Context, token *provider.Token, req provider.UploadRequest, size int64) error {
	sessionURI := req.ResumeToken
	offset := req.StartByte

	if sessionURI == "" {
		uri, err := p.initiateSession(ctx, token, req.FileName, size)
		if err != nil {
			return err
		}
		sessionURI = uri
		offset = 0
		// Persist the handle before any bytes move: a crash here must
		// still leave a resumable session behind.
		if req.OnProgress != nil {
			if err := req.OnProgress(0, size, sessionURI); err != nil {
				return err
			}
		}
	} else {
		done, probed, err := p.probeOffset(ctx, token, sessionURI, size)
		if err != nil {
			return err
		}
		if done {
			if req.OnProgress != nil {
				return req.OnProgress(size, size, sessionURI)
			}
			return nil
		}
		offset = probed
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

		final, err := p.sendChunk(ctx, token, sessionURI, buf[:n], offset, size)
		if err != nil {
			return err
		}
		offset += n
		if req.OnProgress != nil {
			if perr := req.OnProgress(offset, size, sessionURI); perr != nil {
				return perr
			}
		}
		if final {
			if offset != size {
				return fmt.Errorf("session finalized early at %d of %d bytes", offset, size)
			}
			return nil
		}
	}
	return errors.New("session did not finalize after last chunk")
}

func (p *Provider) initiateSession(ctx context.Context, token *provider.Token, name string, size int64) (string, error) {
	body := bytes.NewBufferString(fmt.Sprintf(`{"name":%q}`, name))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.endpoint+"/upload/drive/v3/files?uploadType=resumable", body)
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Authorization", "Bearer "+token.AccessToken)
	httpReq.Header.Set("Content-Type", "application/json; charset=UTF-8")
	httpReq.Header.Set("X-Upload-Content-Type", "application/octet-stream")
	httpReq.Header.Set("X-Upload-Content-Length", fmt.Sprint(size))

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("initiate session: %w", err)
	}
	defer netx.DrainClose(resp)
	if err := netx.CheckStatus(resp, http.StatusOK); err != nil {
		return "", fmt.Errorf("initiate session: %w", err)
	}
	loc := resp.Header.Get("Location")
	if loc == "" {
		return "", errors.New("initiate session: no session URI in response")
	}
	return loc, nil
}

// probeOffset asks the session how many bytes it already has. done is true
// when the session reports the upload finished in a prior attempt.
func (p *Provider) probeOffset(ctx context.Context, token *provider.Token, sessionURI string, size int64) (done bool, offset int64, err error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, sessionURI, nil)
	if err != nil {
		return false, 0, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+token.AccessToken)
	httpReq.Header.Set("Content-Range", netx.ContentRangeProbe(size))

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return false, 0, fmt.Errorf("probe session: %w", err)
	}
	defer netx.DrainClose(resp)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return true, size, nil
	case statusResumeIncomplete:
		return false, netx.ParseRangeEnd(resp.Header.Get("Range")) + 1, nil
	default:
		return false, 0, fmt.Errorf("probe session: %w", netx.CheckStatus(resp))
	}
}

// sendChunk uploads one byte range. final reports terminal success.
func (p *Provider) sendChunk(ctx context.Context, token *provider.Token, sessionURI string, chunk []byte, offset, size int64) (final bool, err error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, sessionURI, bytes.NewReader(chunk))
	if err != nil {
		return false, err
	}
	end := offset + int64(len(chunk)) - 1
	httpReq.Header.Set("Authorization", "Bearer "+token.AccessToken)
	httpReq.Header.Set("Content-Range", netx.ContentRange(offset, end, size))
	httpReq.ContentLength = int64(len(chunk))

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return false, fmt.Errorf("send chunk at %d: %w", offset, err)
	}
	defer netx.DrainClose(resp)

	switch resp.StatusCode {
	case statusResumeIncomplete:
		return false, nil
	case http.StatusOK, http.StatusCreated:
		return true, nil
	default:
		return false, fmt.Errorf("send chunk at %d: %w", offset, netx.CheckStatus(resp))
	}
}
