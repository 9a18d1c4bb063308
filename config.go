package atelier

import "time"

// Config holds tuning knobs shared by the client subsystems.
type Config struct {
	// SubmitRetries is the number of additional attempts for submission-time
	// calls (submit job, upload asset) after the first failure.
	SubmitRetries int

	// RetryBaseDelay is the initial backoff delay between submission retries.
	// The delay doubles each failed attempt up to RetryMaxDelay.
	RetryBaseDelay time.Duration

	// RetryMaxDelay caps the submission retry backoff.
	RetryMaxDelay time.Duration

	// PollInterval is the sleep between healthy status polls. No backoff is
	// applied while the server answers.
	PollInterval time.Duration

	// PollMaxInterval caps the backoff applied between failed polls.
	PollMaxInterval time.Duration

	// ConsecutiveErrorLimit aborts polling after this many poll failures in
	// a row.
	ConsecutiveErrorLimit int

	// TotalErrorLimit aborts polling after this many poll failures overall,
	// even if successful polls keep resetting the consecutive counter.
	TotalErrorLimit int

	// MaxWait bounds the whole wait-for-completion loop in wall-clock time.
	MaxWait time.Duration

	// DownloadBatchSize is the number of artifacts fetched concurrently.
	// It directly bounds peak raw buffer memory.
	DownloadBatchSize int

	// MemoryCeiling is the soft limit, in bytes, on total downloaded artifact
	// memory. Approaching it logs a warning; it does not reject batches.
	MemoryCeiling int64

	// FileSizeLimit rejects any single downloaded artifact larger than this
	// many bytes.
	FileSizeLimit int64

	// DownloadRateLimit caps artifact fetches per second across all batches.
	// Zero leaves fetches unthrottled.
	DownloadRateLimit float64

	// UploadLimit rejects any ingested asset larger than this many bytes
	// before it is sent to the server.
	UploadLimit int64

	// IngestTimeout bounds a single URL fetch during asset ingestion.
	IngestTimeout time.Duration

	// RequestTimeout bounds a single HTTP call to the server.
	RequestTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SubmitRetries:         3,
		RetryBaseDelay:        500 * time.Millisecond,
		RetryMaxDelay:         10 * time.Second,
		PollInterval:          time.Second,
		PollMaxInterval:       30 * time.Second,
		ConsecutiveErrorLimit: 3,
		TotalErrorLimit:       10,
		MaxWait:               10 * time.Minute,
		DownloadBatchSize:     3,
		MemoryCeiling:         512 << 20,
		FileSizeLimit:         200 << 20,
		UploadLimit:           50 << 20,
		IngestTimeout:         30 * time.Second,
		RequestTimeout:        60 * time.Second,
	}
}
