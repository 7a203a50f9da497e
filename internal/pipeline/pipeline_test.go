package pipeline_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/qfx2qif/internal/domain"
	infra "github.com/dvloznov/qfx2qif/internal/infra/bigquery"
	"github.com/dvloznov/qfx2qif/internal/logger"
	"github.com/dvloznov/qfx2qif/internal/ofx"
	"github.com/dvloznov/qfx2qif/internal/pipeline"
	"github.com/dvloznov/qfx2qif/internal/storage"
)

const statement = "OFXHEADER:100\nCHARSET:1252\n\n<OFX><BANKTRANLIST>" +
	"<STMTTRN><DTPOSTED>20240301<TRNAMT>-1,250.00<NAME>Caf\xe9 Rouge<MEMO>lunch</STMTTRN>" +
	"<STMTTRN><DTPOSTED>20240302120000<TRNAMT>40.00<NAME>Refund</STMTTRN>" +
	"</BANKTRANLIST></OFX>"

// MockStorageService is a mock implementation of StorageService for testing.
type MockStorageService struct {
	mu       sync.Mutex
	Files    map[string][]byte
	ReadErr  error
	WriteErr error
}

func newMockStorage(files map[string]string) *MockStorageService {
	m := &MockStorageService{Files: map[string][]byte{}}
	for k, v := range files {
		m.Files[k] = []byte(v)
	}
	return m
}

func (m *MockStorageService) ReadInput(ctx context.Context, uri string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadErr != nil {
		return nil, m.ReadErr
	}
	data, ok := m.Files[uri]
	if !ok {
		return nil, errors.New("no such file: " + uri)
	}
	return data, nil
}

func (m *MockStorageService) WriteOutput(ctx context.Context, uri string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.Files[uri] = append([]byte(nil), data...)
	return nil
}

// MockRunRecorder is a mock implementation of RunRecorder for testing.
type MockRunRecorder struct {
	RecordRunFunc func(ctx context.Context, run *infra.ConversionRunRow, txs []*infra.TransactionRow) error

	Runs []*infra.ConversionRunRow
	Txs  [][]*infra.TransactionRow
}

func (m *MockRunRecorder) RecordRun(ctx context.Context, run *infra.ConversionRunRow, txs []*infra.TransactionRow) error {
	m.Runs = append(m.Runs, run)
	m.Txs = append(m.Txs, txs)
	if m.RecordRunFunc != nil {
		return m.RecordRunFunc(ctx, run, txs)
	}
	return nil
}

var fixedNow = func() time.Time { return time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC) }

func quietContext() context.Context {
	return logger.WithContext(context.Background(), zerolog.Nop())
}

func TestConvertFile_WritesQIF(t *testing.T) {
	store := newMockStorage(map[string]string{"stmt.qfx": statement})

	res, err := pipeline.ConvertFile(quietContext(), pipeline.Deps{Storage: store, Now: fixedNow}, pipeline.Request{
		InputURI: "stmt",
	})
	if err != nil {
		t.Fatalf("ConvertFile: %v", err)
	}

	if res.InputURI != "stmt.qfx" || res.OutputURI != "stmt.qif" {
		t.Errorf("paths = %q -> %q", res.InputURI, res.OutputURI)
	}
	if res.Count != 2 {
		t.Errorf("Count = %d, want 2", res.Count)
	}
	if !res.MemoSuppressed {
		t.Error("memo should be reported as suppressed")
	}
	if res.Charset != "1252" {
		t.Errorf("Charset = %q, want 1252", res.Charset)
	}
	if len(res.InputChecksum) != 64 {
		t.Errorf("InputChecksum = %q, want sha256 hex", res.InputChecksum)
	}
	if res.Recorded {
		t.Error("Recorded must be false without a recorder")
	}

	want := "!Type:Bank\n" +
		"D03/01/2024\nPCafé Rouge\nT-1250.00\nC*\n^\n" +
		"D03/02/2024\nPRefund\nT40.00\nC*\n^\n"
	if got := string(store.Files["stmt.qif"]); got != want {
		t.Errorf("output mismatch\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestConvertFile_RawCharsetAndMemo(t *testing.T) {
	store := newMockStorage(map[string]string{"in.qfx": statement})

	var seen []domain.Transaction
	res, err := pipeline.ConvertFile(quietContext(), pipeline.Deps{Storage: store}, pipeline.Request{
		InputURI:    "in.qfx",
		OutputURI:   "out",
		IncludeMemo: true,
		Charset:     ofx.CharsetRaw,
		OnRecord:    func(tx domain.Transaction) { seen = append(seen, tx) },
	})
	if err != nil {
		t.Fatalf("ConvertFile: %v", err)
	}
	if res.OutputURI != "out.qif" {
		t.Errorf("OutputURI = %q, want out.qif", res.OutputURI)
	}
	if res.Charset != "" || res.MemoSuppressed {
		t.Errorf("charset %q suppressed %v", res.Charset, res.MemoSuppressed)
	}
	if len(seen) != 2 || seen[0].Payee != "Caf\xe9 Rouge" {
		t.Errorf("OnRecord saw %+v", seen)
	}
	if !strings.Contains(string(store.Files["out.qif"]), "Mlunch\n") {
		t.Error("memo line missing from output")
	}
}

func TestConvertFile_RecordsSuccessfulRun(t *testing.T) {
	store := newMockStorage(map[string]string{"stmt.qfx": statement})
	recorder := &MockRunRecorder{}

	res, err := pipeline.ConvertFile(quietContext(), pipeline.Deps{Storage: store, Recorder: recorder, Now: fixedNow}, pipeline.Request{
		InputURI: "stmt.qfx",
	})
	if err != nil {
		t.Fatalf("ConvertFile: %v", err)
	}
	if !res.Recorded {
		t.Error("Recorded = false, want true")
	}
	if len(recorder.Runs) != 1 {
		t.Fatalf("RecordRun calls = %d, want 1", len(recorder.Runs))
	}

	run := recorder.Runs[0]
	if run.RunID != res.RunID || run.Status != infra.RunStatusSuccess {
		t.Errorf("run = %+v", run)
	}
	if run.TransactionCount != 2 || !run.MemoSuppressed || run.Charset != "1252" {
		t.Errorf("run counters = %+v", run)
	}
	if !run.StartedTS.Equal(fixedNow()) || !run.FinishedTS.Equal(fixedNow()) {
		t.Errorf("timestamps = %v %v", run.StartedTS, run.FinishedTS)
	}

	txs := recorder.Txs[0]
	if len(txs) != 2 {
		t.Fatalf("exported transactions = %d, want 2", len(txs))
	}
	if txs[0].Amount != "-1250.00" || txs[1].Sequence != 2 {
		t.Errorf("exported rows = %+v %+v", txs[0], txs[1])
	}
	if txs[0].Memo.Valid {
		t.Error("suppressed memo must not be exported")
	}
}

func TestConvertFile_Failures(t *testing.T) {
	tests := []struct {
		name      string
		store     *MockStorageService
		wantStep  string
		wantCount int64
	}{
		{
			name:     "read error",
			store:    &MockStorageService{Files: map[string][]byte{}, ReadErr: errors.New("permission denied")},
			wantStep: "pipeline step 1 (fetch input) failed",
		},
		{
			name: "write error",
			store: &MockStorageService{
				Files:    map[string][]byte{"stmt.qfx": []byte(statement)},
				WriteErr: errors.New("disk full"),
			},
			wantStep:  "pipeline step 4 (write output) failed",
			wantCount: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := &MockRunRecorder{}
			_, err := pipeline.ConvertFile(quietContext(), pipeline.Deps{Storage: tt.store, Recorder: recorder, Now: fixedNow}, pipeline.Request{
				InputURI: "stmt.qfx",
			})
			if err == nil || !strings.Contains(err.Error(), tt.wantStep) {
				t.Fatalf("err = %v, want %q", err, tt.wantStep)
			}

			if len(recorder.Runs) != 1 {
				t.Fatalf("RecordRun calls = %d, want 1", len(recorder.Runs))
			}
			run := recorder.Runs[0]
			if run.Status != infra.RunStatusFailed {
				t.Errorf("Status = %s, want FAILED", run.Status)
			}
			if !run.ErrorMessage.Valid || !strings.Contains(run.ErrorMessage.StringVal, tt.wantStep) {
				t.Errorf("ErrorMessage = %+v", run.ErrorMessage)
			}
			if run.TransactionCount != tt.wantCount {
				t.Errorf("TransactionCount = %d, want %d", run.TransactionCount, tt.wantCount)
			}
			if recorder.Txs[0] != nil {
				t.Error("failed runs must not export transactions")
			}
		})
	}
}

func TestConvertFile_LedgerFailure(t *testing.T) {
	store := newMockStorage(map[string]string{"stmt.qfx": statement})
	recorder := &MockRunRecorder{
		RecordRunFunc: func(ctx context.Context, run *infra.ConversionRunRow, txs []*infra.TransactionRow) error {
			return errors.New("quota exceeded")
		},
	}

	_, err := pipeline.ConvertFile(quietContext(), pipeline.Deps{Storage: store, Recorder: recorder}, pipeline.Request{
		InputURI: "stmt.qfx",
	})
	if err == nil || !strings.Contains(err.Error(), "record run") {
		t.Fatalf("err = %v, want record run failure", err)
	}
	// The QIF file was still written before the ledger step.
	if _, ok := store.Files["stmt.qif"]; !ok {
		t.Error("output should have been written")
	}
	if len(recorder.Runs) != 2 || recorder.Runs[1].Status != infra.RunStatusFailed {
		t.Errorf("expected success attempt followed by FAILED row, got %d calls", len(recorder.Runs))
	}
}

func TestConvertFile_NoInput(t *testing.T) {
	recorder := &MockRunRecorder{}
	_, err := pipeline.ConvertFile(quietContext(), pipeline.Deps{Storage: newMockStorage(nil), Recorder: recorder}, pipeline.Request{})
	if !errors.Is(err, storage.ErrNoInput) {
		t.Errorf("err = %v, want ErrNoInput", err)
	}
	if len(recorder.Runs) != 0 {
		t.Error("no run should be recorded before the run starts")
	}
}

func TestConvertFile_CancelledContext(t *testing.T) {
	store := newMockStorage(map[string]string{"stmt.qfx": statement})
	ctx, cancel := context.WithCancel(quietContext())
	cancel()

	_, err := pipeline.ConvertFile(ctx, pipeline.Deps{Storage: store}, pipeline.Request{InputURI: "stmt.qfx"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if _, ok := store.Files["stmt.qif"]; ok {
		t.Error("no output expected after cancellation")
	}
}

func TestPipeline_StopsAtFirstError(t *testing.T) {
	var ran []string
	step := func(name string, err error) pipeline.PipelineStep {
		return &funcStep{name: name, fn: func() error { ran = append(ran, name); return err }}
	}

	p := pipeline.NewPipeline(step("a", nil), step("b", errors.New("boom")), step("c", nil))
	err := p.Execute(context.Background(), &pipeline.PipelineState{})
	if err == nil || err.Error() != "pipeline step 2 (b) failed: boom" {
		t.Errorf("err = %v", err)
	}
	if strings.Join(ran, ",") != "a,b" {
		t.Errorf("ran = %v, want a,b", ran)
	}
}

type funcStep struct {
	name string
	fn   func() error
}

func (s *funcStep) Name() string { return s.name }

func (s *funcStep) Execute(ctx context.Context, state *pipeline.PipelineState) error {
	return s.fn()
}
