package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

// GCSScheme prefixes every Cloud Storage location accepted by this package.
const GCSScheme = "gs://"

// ErrInvalidGCSURI is returned when a gs:// location has no bucket or object.
var ErrInvalidGCSURI = errors.New("invalid GCS URI")

// IsGCSURI reports whether uri names a Cloud Storage object.
func IsGCSURI(uri string) bool {
	return strings.HasPrefix(uri, GCSScheme)
}

// ParseGCSURI splits gs://bucket/path/to/object into bucket and object.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	if !IsGCSURI(uri) {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidGCSURI, uri)
	}

	trimmed := strings.TrimPrefix(uri, GCSScheme)
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w (no object path): %s", ErrInvalidGCSURI, uri)
	}

	return parts[0], parts[1], nil
}

// ExtractFilename returns the last path element of a local path or gs:// URI.
// e.g., "gs://bucket/folder/statement.qfx" → "statement.qfx"
func ExtractFilename(uri string) string {
	if IsGCSURI(uri) {
		trimmed := strings.TrimPrefix(uri, GCSScheme)
		parts := strings.SplitN(trimmed, "/", 2)
		if len(parts) < 2 {
			return trimmed
		}
		return path.Base(parts[1])
	}
	return path.Base(strings.ReplaceAll(uri, "\\", "/"))
}

// FetchFromGCS downloads the object bytes named by a gs:// URI.
// It assumes Application Default Credentials are configured.
func FetchFromGCS(ctx context.Context, gcsURI string) ([]byte, error) {
	bucketName, objectPath, err := ParseGCSURI(gcsURI)
	if err != nil {
		return nil, err
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("FetchFromGCS: creating storage client: %w", err)
	}
	defer client.Close()

	rc, err := client.Bucket(bucketName).Object(objectPath).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("FetchFromGCS: reading object %s/%s: %w", bucketName, objectPath, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("FetchFromGCS: reading bytes: %w", err)
	}

	return data, nil
}

// UploadToGCS writes data to the object named by a gs:// URI, replacing any
// existing object.
func UploadToGCS(ctx context.Context, gcsURI string, data []byte, contentType string) error {
	bucketName, objectPath, err := ParseGCSURI(gcsURI)
	if err != nil {
		return err
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("UploadToGCS: creating storage client: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := client.Bucket(bucketName).Object(objectPath).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return fmt.Errorf("UploadToGCS: copy to writer: %w", err)
	}

	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return fmt.Errorf("UploadToGCS: finalize upload: %w", err)
	}

	return nil
}
