package objectstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

const defaultLocalRoot = "_output"

// LocalUploader writes objects below a directory that is served at PublicBaseURL.
type LocalUploader struct {
	root          string
	publicBaseURL string
	logger        *zap.Logger
}

// NewLocalUploader defaults root to "_output".
func NewLocalUploader(root, publicBaseURL string, logger *zap.Logger) *LocalUploader {
	if strings.TrimSpace(root) == "" {
		root = defaultLocalRoot
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalUploader{
		root:          root,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		logger:        logger,
	}
}

// Upload writes the object to <root>/<name>.
func (u *LocalUploader) Upload(ctx context.Context, data []byte, name string, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", ErrEmptyObject
	}
	if err := validateName(name); err != nil {
		return "", err
	}

	fullPath := filepath.Join(u.root, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("objectstore: create directory: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		u.logger.Error("local upload failed", zap.String("path", fullPath), zap.Error(err))
		return "", fmt.Errorf("objectstore: write %s: %w", fullPath, err)
	}
	u.logger.Info("local upload complete",
		zap.String("path", fullPath),
		zap.String("content_type", contentType))

	if u.publicBaseURL == "" {
		return "file://" + filepath.ToSlash(fullPath), nil
	}
	return u.publicBaseURL + "/" + name, nil
}
