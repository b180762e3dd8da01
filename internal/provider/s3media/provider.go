// Package s3media implements the S3-compatible storage backend. Small files
// go up with a single PutObject; large files use the multipart protocol,
// whose upload id doubles as the resume token — acknowledged parts are
// recovered from the backend with ListParts, and CompleteMultipartUpload is
// the explicit finalize.
package s3media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/dmarchuk/shuttersync/internal/common"
	"github.com/dmarchuk/shuttersync/internal/logging"
	"github.com/dmarchuk/shuttersync/internal/provider"
)

const (
	defaultSimpleThreshold = 8 << 20
	defaultChunkSize       = 8 << 20
)

// ProviderID is the backend id tasks reference.
const ProviderID = "s3"

// api is the subset of the S3 client the provider uses; *s3.Client
// satisfies it and tests substitute a fake.
type api interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, opts ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	ListParts(ctx context.Context, in *s3.ListPartsInput, opts ...func(*s3.Options)) (*s3.ListPartsOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Config holds the credentials and bucket settings for an S3-compatible
// endpoint (AWS or MinIO).
type Config struct {
	AccessKey    string
	SecretKey    string
	Bucket       string
	Region       string
	BaseEndpoint string
	KeyPrefix    string
}

// NewClient builds an S3 client from static credentials; BaseEndpoint and
// path-style addressing cover MinIO-style deployments.
func NewClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey, cfg.SecretKey, "")))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.BaseEndpoint)
			o.UsePathStyle = true
		}
	})
	return client, nil
}

type Options struct {
	SimpleThreshold int64
	ChunkSize       int64
}

type Provider struct {
	client    api
	cfg       Config
	log       logging.Logger
	threshold int64
	chunkSize int64

	// newKey generates the remote object key for a file name; a field so
	// tests can pin it.
	newKey func(fileName string) string
}

func New(client api, cfg Config, log logging.Logger, opts Options) *Provider {
	p := &Provider{
		client:    client,
		cfg:       cfg,
		log:       log.With("backend", ProviderID),
		threshold: defaultSimpleThreshold,
		chunkSize: defaultChunkSize,
	}
	if opts.SimpleThreshold > 0 {
		p.threshold = opts.SimpleThreshold
	}
	if opts.ChunkSize > 0 {
		p.chunkSize = opts.ChunkSize
	}
	p.newKey = func(fileName string) string {
		d := time.Now()
		key := fmt.Sprintf("%d/%02d/%v-%s", d.Year(), int(d.Month()), uuid.New(), fileName)
		if cfg.KeyPrefix != "" {
			key = strings.TrimSuffix(cfg.KeyPrefix, "/") + "/" + key
		}
		return key
	}
	return p
}

func (p *Provider) ProviderID() string  { return ProviderID }
func (p *Provider) DisplayName() string { return "S3 Object Storage" }

// Authenticate verifies the static credentials against the bucket. There is
// no interactive flow for this backend.
func (p *Provider) Authenticate(ctx context.Context) (bool, error) {
	if !p.IsAuthenticated() {
		return false, nil
	}
	_, err := p.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(p.cfg.Bucket)})
	if err != nil {
		return false, fmt.Errorf("head bucket %s: %w", p.cfg.Bucket, err)
	}
	return true, nil
}

func (p *Provider) IsAuthenticated() bool {
	return p.cfg.AccessKey != "" && p.cfg.SecretKey != "" && p.cfg.Bucket != ""
}

// SignOut is a no-op: credentials live in the deployment config, not in a
// user token.
func (p *Provider) SignOut() error { return nil }

func (p *Provider) Upload(ctx context.Context, req provider.UploadRequest) error {
	size, err := provider.SourceSize(req.FilePath)
	if err != nil {
		return err
	}
	if !p.IsAuthenticated() {
		return common.ErrNotAuthenticated
	}
	if size <= p.threshold {
		return p.uploadSimple(ctx, req, size)
	}
	return p.uploadMultipart(ctx, req, size)
}

func (p *Provider) uploadSimple(ctx context.Context, req provider.UploadRequest, size int64) error {
	f, err := os.Open(req.FilePath)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer f.Close()

	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(p.cfg.Bucket),
		Key:           aws.String(p.newKey(req.FileName)),
		Body:          f,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	if req.OnProgress != nil {
		return req.OnProgress(size, size, "")
	}
	return nil
}

// resume tokens carry both the object key and the multipart upload id,
// separated by '|': the key must stay stable across attempts.
func encodeToken(key, uploadID string) string {
	return key + "|" + uploadID
}

func decodeToken(token string) (key, uploadID string, err error) {
	idx := strings.LastIndex(token, "|")
	if idx <= 0 || idx == len(token)-1 {
		return "", "", fmt.Errorf("malformed resume token %q", token)
	}
	return token[:idx], token[idx+1:], nil
}

func (p *Provider) uploadMultipart(ctx context.Context, req provider.UploadRequest, size int64) error {
	var key, uploadID string
	var completed []types.CompletedPart
	var offset int64

	if req.ResumeToken == "" {
		key = p.newKey(req.FileName)
		out, err := p.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
			Bucket: aws.String(p.cfg.Bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return fmt.Errorf("create multipart upload: %w", err)
		}
		uploadID = aws.ToString(out.UploadId)
		// Persist the handle before any bytes move.
		if req.OnProgress != nil {
			if err := req.OnProgress(0, size, encodeToken(key, uploadID)); err != nil {
				return err
			}
		}
	} else {
		var err error
		key, uploadID, err = decodeToken(req.ResumeToken)
		if err != nil {
			return err
		}
		completed, offset, err = p.recoverParts(ctx, key, uploadID)
		if err != nil {
			return err
		}
	}
	token := encodeToken(key, uploadID)

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
			return fmt.Errorf("read part at %d: %w", offset, err)
		}

		partNumber := int32(len(completed) + 1)
		out, err := p.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:        aws.String(p.cfg.Bucket),
			Key:           aws.String(key),
			UploadId:      aws.String(uploadID),
			PartNumber:    aws.Int32(partNumber),
			Body:          bytes.NewReader(buf[:n]),
			ContentLength: aws.Int64(n),
		})
		if err != nil {
			return fmt.Errorf("upload part %d: %w", partNumber, err)
		}
		completed = append(completed, types.CompletedPart{
			ETag:       out.ETag,
			PartNumber: aws.Int32(partNumber),
		})
		offset += n
		if req.OnProgress != nil {
			if perr := req.OnProgress(offset, size, token); perr != nil {
				return perr
			}
		}
	}

	_, err = p.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(p.cfg.Bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return fmt.Errorf("complete multipart upload: %w", err)
	}
	return nil
}

// recoverParts asks the backend which parts it already holds and returns
// them with the acknowledged byte offset.
func (p *Provider) recoverParts(ctx context.Context, key, uploadID string) ([]types.CompletedPart, int64, error) {
	out, err := p.client.ListParts(ctx, &s3.ListPartsInput{
		Bucket:   aws.String(p.cfg.Bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("list parts: %w", err)
	}

	parts := make([]types.Part, len(out.Parts))
	copy(parts, out.Parts)
	sort.Slice(parts, func(i, j int) bool {
		return aws.ToInt32(parts[i].PartNumber) < aws.ToInt32(parts[j].PartNumber)
	})

	var completed []types.CompletedPart
	var offset int64
	for _, part := range parts {
		completed = append(completed, types.CompletedPart{
			ETag:       part.ETag,
			PartNumber: part.PartNumber,
		})
		offset += aws.ToInt64(part.Size)
	}
	return completed, offset, nil
}
