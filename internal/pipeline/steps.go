package pipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/dvloznov/qfx2qif/internal/convert"
	"github.com/dvloznov/qfx2qif/internal/domain"
	infra "github.com/dvloznov/qfx2qif/internal/infra/bigquery"
	"github.com/dvloznov/qfx2qif/internal/logger"
	"github.com/dvloznov/qfx2qif/internal/ofx"
)

// PipelineStep represents a single step in the conversion pipeline.
type PipelineStep interface {
	Name() string
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across all pipeline steps.
type PipelineState struct {
	RunID     string
	StartedAt time.Time

	InputURI    string
	OutputURI   string
	IncludeMemo bool
	CharsetMode ofx.CharsetMode
	OnRecord    func(tx domain.Transaction)

	Input         []byte
	InputChecksum string
	Charset       string
	Decoded       []byte

	Output bytes.Buffer
	Result *convert.Result

	// Recorded is set once the run row has been written to the ledger.
	Recorded bool
}

// Step 1: FetchInputStep reads the statement bytes and fingerprints them.
type FetchInputStep struct {
	Storage StorageService
}

func (s *FetchInputStep) Name() string { return "fetch input" }

func (s *FetchInputStep) Execute(ctx context.Context, state *PipelineState) error {
	data, err := s.Storage.ReadInput(ctx, state.InputURI)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(data)
	state.Input = data
	state.InputChecksum = hex.EncodeToString(sum[:])

	log := logger.FromContext(ctx)
	log.Debug().
		Str("input", state.InputURI).
		Int("bytes", len(data)).
		Str("checksum", state.InputChecksum).
		Msg("Input read")
	return nil
}

// Step 2: DecodeCharsetStep transcodes single-byte charsets named in the OFX header.
type DecodeCharsetStep struct{}

func (s *DecodeCharsetStep) Name() string { return "decode charset" }

func (s *DecodeCharsetStep) Execute(ctx context.Context, state *PipelineState) error {
	decoded, charset, err := ofx.Decode(state.Input, state.CharsetMode)
	if err != nil {
		return err
	}
	state.Decoded = decoded
	state.Charset = charset
	if charset != "" {
		log := logger.FromContext(ctx)
		log.Debug().Str("charset", charset).Msg("Input transcoded to UTF-8")
	}
	return nil
}

// Step 3: ConvertStep runs the conversion pass into an in-memory buffer.
type ConvertStep struct{}

func (s *ConvertStep) Name() string { return "convert" }

func (s *ConvertStep) Execute(ctx context.Context, state *PipelineState) error {
	state.Output.Reset()
	res, err := convert.Convert(state.Decoded, convert.Options{
		IncludeMemo: state.IncludeMemo,
		OnRecord:    state.OnRecord,
	}, &state.Output)
	if err != nil {
		return err
	}
	state.Result = res
	return nil
}

// Step 4: WriteOutputStep stores the QIF document.
type WriteOutputStep struct {
	Storage StorageService
}

func (s *WriteOutputStep) Name() string { return "write output" }

func (s *WriteOutputStep) Execute(ctx context.Context, state *PipelineState) error {
	return s.Storage.WriteOutput(ctx, state.OutputURI, state.Output.Bytes())
}

// Step 5: RecordRunStep writes a SUCCESS run and its transactions to the ledger.
// It does nothing when no recorder is configured.
type RecordRunStep struct {
	Recorder RunRecorder
	Now      func() time.Time
}

func (s *RecordRunStep) Name() string { return "record run" }

func (s *RecordRunStep) Execute(ctx context.Context, state *PipelineState) error {
	if s.Recorder == nil {
		return nil
	}
	now := s.Now()
	run := newRunRow(state)
	run.MarkSucceeded(now)
	txs := infra.ToTransactionRows(state.RunID, state.Result.Transactions, now)

	if err := s.Recorder.RecordRun(ctx, run, txs); err != nil {
		return err
	}
	state.Recorded = true
	return nil
}

// newRunRow fills a ledger row from whatever the pipeline produced so far.
func newRunRow(state *PipelineState) *infra.ConversionRunRow {
	row := &infra.ConversionRunRow{
		RunID:         state.RunID,
		InputURI:      state.InputURI,
		OutputURI:     state.OutputURI,
		InputChecksum: state.InputChecksum,
		Charset:       state.Charset,
		IncludeMemo:   state.IncludeMemo,
		StartedTS:     state.StartedAt,
	}
	if state.Result != nil {
		row.TransactionCount = int64(state.Result.Count)
		row.MemoSuppressed = state.Result.MemoSuppressed
	}
	return row
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps in the pipeline sequentially and stops at the first error.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	for i, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("pipeline step %d (%s) not started: %w", i+1, step.Name(), err)
		}
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d (%s) failed: %w", i+1, step.Name(), err)
		}
	}
	return nil
}

// NewConversionPipeline creates the standard 5-step pipeline for converting one file.
func NewConversionPipeline(deps Deps) *Pipeline {
	return NewPipeline(
		&FetchInputStep{Storage: deps.Storage},
		&DecodeCharsetStep{},
		&ConvertStep{},
		&WriteOutputStep{Storage: deps.Storage},
		&RecordRunStep{Recorder: deps.Recorder, Now: deps.now},
	)
}
