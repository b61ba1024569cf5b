package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/vip4dfw/vip4dfw-backend/internal/config"
)

// LocalURLPrefix is where the router serves the local upload directory.
const LocalURLPrefix = "/uploads"

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/gif":  true,
}

// ImageStore saves fleet images. The returned key is what Delete expects.
type ImageStore interface {
	Upload(ctx context.Context, file *multipart.FileHeader, folder string) (url, key string, err error)
	Delete(ctx context.Context, key string) error
}

// Storage writes to S3 when AWS credentials are configured and to a
// local directory otherwise.
type Storage struct {
	client    *s3.S3
	uploader  *s3manager.Uploader
	bucket    string
	region    string
	uploadDir string
}

func NewStorage(cfg config.Config, logger *slog.Logger) (*Storage, error) {
	if cfg.AWSAccessKeyID != "" && cfg.AWSSecretAccessKey != "" && cfg.AWSBucketName != "" {
		sess, err := session.NewSession(&aws.Config{
			Region:      aws.String(cfg.AWSRegion),
			Credentials: credentials.NewStaticCredentials(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create AWS session: %w", err)
		}

		logger.Info("using S3 storage", "bucket", cfg.AWSBucketName)
		return &Storage{
			client:   s3.New(sess),
			uploader: s3manager.NewUploader(sess),
			bucket:   cfg.AWSBucketName,
			region:   cfg.AWSRegion,
		}, nil
	}

	logger.Warn("AWS S3 not configured, using local file storage", "dir", cfg.UploadDir)
	return NewLocalStorage(cfg.UploadDir)
}

func NewLocalStorage(dir string) (*Storage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &Storage{uploadDir: dir}, nil
}

func (s *Storage) UsingS3() bool {
	return s.uploader != nil
}

// Dir is the local upload directory, empty when S3 is used.
func (s *Storage) Dir() string {
	return s.uploadDir
}

func (s *Storage) Upload(ctx context.Context, file *multipart.FileHeader, folder string) (string, string, error) {
	src, err := file.Open()
	if err != nil {
		return "", "", fmt.Errorf("failed to open file: %w", err)
	}
	defer src.Close()

	buffer := bytes.NewBuffer(nil)
	if _, err := io.Copy(buffer, src); err != nil {
		return "", "", fmt.Errorf("failed to read file: %w", err)
	}

	contentType := http.DetectContentType(buffer.Bytes())
	if !allowedImageTypes[contentType] {
		return "", "", fmt.Errorf("unsupported image type %q", contentType)
	}

	key := path.Join(folder, fmt.Sprintf("%d%s", time.Now().UnixNano(), strings.ToLower(filepath.Ext(file.Filename))))

	if s.UsingS3() {
		_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(buffer.Bytes()),
			ContentType: aws.String(contentType),
		})
		if err != nil {
			return "", "", fmt.Errorf("failed to upload to S3: %w", err)
		}
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key), key, nil
	}

	dst := filepath.Join(s.uploadDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create folder directory: %w", err)
	}
	if err := os.WriteFile(dst, buffer.Bytes(), 0o644); err != nil {
		return "", "", fmt.Errorf("failed to save file: %w", err)
	}
	return LocalURLPrefix + "/" + key, key, nil
}

func (s *Storage) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	if s.UsingS3() {
		_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		return err
	}

	clean := filepath.Clean(filepath.FromSlash(key))
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return fmt.Errorf("invalid image key %q", key)
	}
	err := os.Remove(filepath.Join(s.uploadDir, clean))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
