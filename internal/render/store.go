package render

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/medscribe/go-scribe/internal/domain/apperror"
)

// StoreConfig holds artifact storage configuration
type StoreConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicBaseURL, when set, is used to build the returned document URL
	// instead of the raw endpoint (reverse proxy in front of the bucket).
	PublicBaseURL string
}

// ArtifactStore persists rendered documents in object storage.
type ArtifactStore struct {
	client *minio.Client
	cfg    StoreConfig
	logger *zap.Logger
}

// NewArtifactStore creates a new artifact store
func NewArtifactStore(cfg StoreConfig, logger *zap.Logger) (*ArtifactStore, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("storage endpoint and bucket are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init object storage client: %w", err)
	}
	return &ArtifactStore{client: client, cfg: cfg, logger: logger}, nil
}

// EnsureBucket creates the bucket if it does not exist yet.
func (s *ArtifactStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	s.logger.Info("created artifact bucket", zap.String("bucket", s.cfg.Bucket))
	return nil
}

// PutPrescriptionPDF stores the rendered document and returns its URL.
// Objects are keyed by prescription number so re-renders never clobber a
// finalized document for a different prescription.
func (s *ArtifactStore) PutPrescriptionPDF(ctx context.Context, prescriptionNumber string, pdf []byte) (string, error) {
	key := fmt.Sprintf("prescriptions/%s/%s.pdf", time.Now().UTC().Format("2006/01"), prescriptionNumber)

	_, err := s.client.PutObject(ctx, s.cfg.Bucket, key, bytes.NewReader(pdf), int64(len(pdf)),
		minio.PutObjectOptions{ContentType: "application/pdf"})
	if err != nil {
		return "", apperror.External("artifact storage", fmt.Errorf("put object %s: %w", key, err))
	}
	return s.objectURL(key), nil
}

// PutAudioRecording stores a consultation's assembled audio, best effort.
func (s *ArtifactStore) PutAudioRecording(ctx context.Context, consultationID string, audio []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := fmt.Sprintf("recordings/%s.webm", consultationID)

	_, err := s.client.PutObject(ctx, s.cfg.Bucket, key, bytes.NewReader(audio), int64(len(audio)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", apperror.External("artifact storage", fmt.Errorf("put object %s: %w", key, err))
	}
	return s.objectURL(key), nil
}

func (s *ArtifactStore) objectURL(key string) string {
	base := s.cfg.PublicBaseURL
	if base == "" {
		scheme := "http"
		if s.cfg.UseSSL {
			scheme = "https"
		}
		base = fmt.Sprintf("%s://%s", scheme, s.cfg.Endpoint)
	}
	return fmt.Sprintf("%s/%s/%s", base, s.cfg.Bucket, key)
}
