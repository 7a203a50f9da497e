package jobs

import (
	"context"
	"time"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeConvertFile represents a single OFX to QIF file conversion.
	JobTypeConvertFile JobType = "convert_file"
)

// DefaultMaxRetries applies when a job is published without MaxRetries.
const DefaultMaxRetries = 3

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
)

// IsTerminal reports whether no further transitions will happen.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ConvertFileJob represents a job to convert one statement file to QIF.
type ConvertFileJob struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	// InputURI is the local path or gs:// URI of the statement.
	InputURI string `json:"input_uri"`

	// OutputURI is where the QIF goes; derived from InputURI when empty.
	OutputURI string `json:"output_uri,omitempty"`

	// IncludeMemo writes M lines for records that carry a memo.
	IncludeMemo bool `json:"include_memo"`

	// Charset is "auto" or "raw"; empty means auto.
	Charset string `json:"charset,omitempty"`

	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`

	// Filled in by the handler on success.
	RunID            string `json:"run_id,omitempty"`
	TransactionCount int    `json:"transaction_count"`
	MemoSuppressed   bool   `json:"memo_suppressed"`
}

// Job is a generic interface for all job types.
type Job interface {
	// GetID returns the unique job identifier.
	GetID() string

	// GetType returns the job type.
	GetType() JobType

	// GetStatus returns the current job status.
	GetStatus() JobStatus
}

// GetID implements the Job interface.
func (j *ConvertFileJob) GetID() string {
	return j.JobID
}

// GetType implements the Job interface.
func (j *ConvertFileJob) GetType() JobType {
	return JobTypeConvertFile
}

// GetStatus implements the Job interface.
func (j *ConvertFileJob) GetStatus() JobStatus {
	return j.Status
}

// Publisher defines the interface for publishing jobs to a queue.
type Publisher interface {
	// PublishConvertFile publishes a file conversion job.
	PublishConvertFile(ctx context.Context, job *ConvertFileJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler is a function that processes a job.
// It should return an error if the job failed and should be retried;
// errors wrapped with Permanent are not retried.
type JobHandler func(ctx context.Context, job Job) error

// JobStore defines the interface for storing and retrieving job status.
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *ConvertFileJob) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID string) (*ConvertFileJob, error)

	// ListJobs retrieves jobs with optional filtering, oldest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*ConvertFileJob, error)

	// UpdateJobStatus updates the status of a job.
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	// InputURI filters jobs by input location.
	InputURI string

	// Status filters jobs by status.
	Status JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}
