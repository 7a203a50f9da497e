package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// QIFContentType is attached to QIF objects written to Cloud Storage.
const QIFContentType = "application/qif"

// Service reads conversion inputs and writes conversion outputs. Locations
// are either local file paths or gs://bucket/object URIs.
type Service struct{}

// NewService creates a new instance of Service.
func NewService() *Service {
	return &Service{}
}

// ReadInput returns the whole content at uri.
func (s *Service) ReadInput(ctx context.Context, uri string) ([]byte, error) {
	if IsGCSURI(uri) {
		return FetchFromGCS(ctx, uri)
	}

	data, err := os.ReadFile(uri)
	if err != nil {
		return nil, fmt.Errorf("ReadInput: reading %q: %w", uri, err)
	}
	return data, nil
}

// WriteOutput creates or truncates the location at uri and stores data there.
// Missing parent directories of local paths are not created.
func (s *Service) WriteOutput(ctx context.Context, uri string, data []byte) error {
	if IsGCSURI(uri) {
		return UploadToGCS(ctx, uri, data, QIFContentType)
	}

	if err := os.WriteFile(filepath.Clean(uri), data, 0o644); err != nil {
		return fmt.Errorf("WriteOutput: writing %q: %w", uri, err)
	}
	return nil
}
