package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"

	gcs "cloud.google.com/go/storage"

	"github.com/dvloznov/qfx2qif/internal/logger"
	"github.com/dvloznov/qfx2qif/internal/ofx"
	"github.com/dvloznov/qfx2qif/internal/pipeline"
	"github.com/dvloznov/qfx2qif/internal/storage"
)

// PermanentError marks a failure that a retry cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the queue fails the job without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// NewConvertFileHandler returns a JobHandler that runs the conversion
// pipeline for ConvertFileJob values and stores the outcome on the job.
func NewConvertFileHandler(deps pipeline.Deps) JobHandler {
	return func(ctx context.Context, job Job) error {
		convertJob, ok := job.(*ConvertFileJob)
		if !ok {
			return Permanent(fmt.Errorf("unexpected job type: %T", job))
		}

		log := logger.FromContext(ctx).With().
			Str("job_id", convertJob.JobID).
			Str("input", convertJob.InputURI).
			Logger()

		mode, err := ofx.ParseCharsetMode(convertJob.Charset)
		if err != nil {
			return Permanent(err)
		}

		log.Info().Int("attempt", convertJob.RetryCount+1).Msg("Processing convert job")

		res, err := pipeline.ConvertFile(logger.WithContext(ctx, log), deps, pipeline.Request{
			InputURI:    convertJob.InputURI,
			OutputURI:   convertJob.OutputURI,
			IncludeMemo: convertJob.IncludeMemo,
			Charset:     mode,
		})
		if err != nil {
			if isUnrecoverable(err) {
				return Permanent(err)
			}
			return err
		}

		convertJob.OutputURI = res.OutputURI
		convertJob.RunID = res.RunID
		convertJob.TransactionCount = res.Count
		convertJob.MemoSuppressed = res.MemoSuppressed
		return nil
	}
}

// isUnrecoverable matches errors caused by the request rather than the
// environment: missing inputs and malformed locations.
func isUnrecoverable(err error) bool {
	return errors.Is(err, storage.ErrNoInput) ||
		errors.Is(err, storage.ErrInvalidGCSURI) ||
		errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, gcs.ErrObjectNotExist) ||
		errors.Is(err, gcs.ErrBucketNotExist)
}
