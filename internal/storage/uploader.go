package storage

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"learnhub-chat/internal/domain"
	apperrors "learnhub-chat/pkg/errors"
	"learnhub-chat/pkg/logger"
)

// sniffLen is how many leading bytes are buffered for MIME detection
const sniffLen = 3072

// objectStore is the slice of the MinIO client the uploader needs
type objectStore interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader,
		objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// UploaderConfig holds object storage settings
type UploaderConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Secure    bool
	// PublicBaseURL is prepended to bucket/object paths in returned URLs
	PublicBaseURL string
}

// Uploader pushes attachment blobs to object storage, reporting monotonic
// progress and classifying the media kind from the file contents. A failed
// or rejected upload never yields a URL, so callers cannot send a message
// referencing a partial object.
type Uploader struct {
	store      objectStore
	bucket     string
	publicBase string
	log        *zap.Logger
}

// NewUploader creates an uploader backed by MinIO
func NewUploader(cfg UploaderConfig) (*Uploader, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return newUploader(client, cfg), nil
}

func newUploader(store objectStore, cfg UploaderConfig) *Uploader {
	return &Uploader{
		store:      store,
		bucket:     cfg.Bucket,
		publicBase: strings.TrimRight(cfg.PublicBaseURL, "/"),
		log:        logger.With(zap.String("component", "uploader")),
	}
}

// Upload streams a file to object storage. The progress callback is invoked
// with monotonically increasing values from 0 to 100. Empty, unreadable, or
// unsupported files fail with UPLOAD_FAILED before any bytes are stored.
func (u *Uploader) Upload(ctx context.Context, filename string, r io.Reader, size int64, progress func(int)) (domain.Attachment, error) {
	if size <= 0 {
		return domain.Attachment{}, apperrors.UploadFailed("file is empty", nil)
	}
	if progress == nil {
		progress = func(int) {}
	}

	// Sniff the MIME type from the leading bytes without consuming them
	buffered := bufio.NewReaderSize(r, sniffLen)
	head, err := buffered.Peek(sniffLen)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return domain.Attachment{}, apperrors.UploadFailed("file is unreadable", err)
	}
	if len(head) == 0 {
		return domain.Attachment{}, apperrors.UploadFailed("file is empty", nil)
	}

	mtype := mimetype.Detect(head)
	kind, ok := kindFromMIME(mtype.String())
	if !ok {
		return domain.Attachment{}, apperrors.UploadFailed(
			fmt.Sprintf("unsupported media type %s", mtype.String()), nil)
	}

	objectName := objectName(filename, mtype.Extension())

	progress(0)
	reader := &progressReader{r: buffered, total: size, report: progress}

	_, err = u.store.PutObject(ctx, u.bucket, objectName, reader, size, minio.PutObjectOptions{
		ContentType: mtype.String(),
	})
	if err != nil {
		u.log.Warn("attachment upload failed",
			zap.String("object", objectName),
			zap.Error(err),
		)
		return domain.Attachment{}, apperrors.UploadFailed("upload failed", err)
	}
	progress(100)

	u.log.Info("attachment uploaded",
		zap.String("object", objectName),
		zap.String("kind", string(kind)),
		zap.Int64("size", size),
	)

	return domain.Attachment{
		URL:  fmt.Sprintf("%s/%s/%s", u.publicBase, u.bucket, objectName),
		Kind: kind,
	}, nil
}

// UploadClip uploads a finished audio recording
func (u *Uploader) UploadClip(ctx context.Context, clip *Clip, progress func(int)) (domain.Attachment, error) {
	if clip == nil || clip.Size() == 0 {
		return domain.Attachment{}, apperrors.UploadFailed("recording is empty", nil)
	}
	return u.Upload(ctx, "recording", clip.Reader(), clip.Size(), progress)
}

// kindFromMIME maps a detected MIME type onto the supported media kinds
func kindFromMIME(mime string) (domain.MediaKind, bool) {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return domain.MediaImage, true
	case strings.HasPrefix(mime, "audio/"):
		return domain.MediaAudio, true
	case strings.HasPrefix(mime, "video/"):
		return domain.MediaVideo, true
	}
	return "", false
}

// objectName builds a collision-free object key, preferring the detected
// extension over whatever the client named the file.
func objectName(filename, detectedExt string) string {
	ext := detectedExt
	if ext == "" {
		ext = path.Ext(filename)
	}
	return uuid.NewString() + ext
}

// progressReader reports read progress as a monotonic 0-100 percentage
type progressReader struct {
	r      io.Reader
	total  int64
	seen   int64
	last   int
	report func(int)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.seen += int64(n)
		pct := int(p.seen * 100 / p.total)
		if pct > 100 {
			pct = 100
		}
		if pct > p.last {
			p.last = pct
			p.report(pct)
		}
	}
	return n, err
}
