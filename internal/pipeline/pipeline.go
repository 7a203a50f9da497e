// Package pipeline converts one statement file end to end: read, decode,
// convert, write and, optionally, record the run in the BigQuery ledger.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/qfx2qif/internal/domain"
	"github.com/dvloznov/qfx2qif/internal/logger"
	"github.com/dvloznov/qfx2qif/internal/ofx"
	"github.com/dvloznov/qfx2qif/internal/storage"
)

// Deps are the collaborators of ConvertFile. Recorder may be nil to skip
// the ledger; it must then be an untyped nil.
type Deps struct {
	Storage  StorageService
	Recorder RunRecorder
	Now      func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now().UTC()
}

// Request describes a single file conversion.
type Request struct {
	InputURI    string
	OutputURI   string // derived from InputURI when empty
	IncludeMemo bool
	Charset     ofx.CharsetMode

	// OnRecord, when set, is called for each emitted record in output order.
	OnRecord func(tx domain.Transaction)
}

// Result summarizes a finished conversion.
type Result struct {
	RunID          string
	InputURI       string
	OutputURI      string
	InputChecksum  string
	Charset        string
	Count          int
	MemoSuppressed bool
	Transactions   []domain.Transaction
	Recorded       bool
}

// ConvertFile resolves the file names of req, runs the conversion pipeline
// and returns its summary. When the pipeline fails after the run started and
// a recorder is configured, a FAILED run row is recorded on a best-effort basis.
func ConvertFile(ctx context.Context, deps Deps, req Request) (*Result, error) {
	if deps.Storage == nil {
		return nil, errors.New("ConvertFile: storage service is required")
	}

	input, output, err := storage.ResolvePaths(req.InputURI, req.OutputURI)
	if err != nil {
		return nil, fmt.Errorf("ConvertFile: %w", err)
	}

	mode := req.Charset
	if mode == "" {
		mode = ofx.CharsetAuto
	}

	state := &PipelineState{
		RunID:       uuid.NewString(),
		StartedAt:   deps.now(),
		InputURI:    input,
		OutputURI:   output,
		IncludeMemo: req.IncludeMemo,
		CharsetMode: mode,
		OnRecord:    req.OnRecord,
	}

	log := logger.WithFields(logger.FromContext(ctx), map[string]interface{}{
		"run_id": state.RunID,
		"input":  input,
		"output": output,
	})
	ctx = logger.WithContext(ctx, log)

	if err := NewConversionPipeline(deps).Execute(ctx, state); err != nil {
		log.Error().Err(err).Msg("Conversion failed")
		recordFailure(ctx, deps, state, err)
		return nil, err
	}

	res := &Result{
		RunID:          state.RunID,
		InputURI:       input,
		OutputURI:      output,
		InputChecksum:  state.InputChecksum,
		Charset:        state.Charset,
		Count:          state.Result.Count,
		MemoSuppressed: state.Result.MemoSuppressed,
		Transactions:   state.Result.Transactions,
		Recorded:       state.Recorded,
	}

	log.Info().
		Int("transactions", res.Count).
		Bool("memo_suppressed", res.MemoSuppressed).
		Bool("recorded", res.Recorded).
		Msg("Conversion finished")
	return res, nil
}

// recordFailure writes a FAILED run row. Ledger errors are logged, never returned.
func recordFailure(ctx context.Context, deps Deps, state *PipelineState, cause error) {
	if deps.Recorder == nil || state.Recorded {
		return
	}

	row := newRunRow(state)
	row.MarkFailed(cause, deps.now())

	// The caller's context may be the reason for the failure.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if err := deps.Recorder.RecordRun(recordCtx, row, nil); err != nil {
		log := logger.FromContext(ctx)
		log.Error().
			Err(err).
			Str("run_id", state.RunID).
			Msg("Failed to record failed run")
	}
}
