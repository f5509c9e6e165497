package transfer

import "time"

// Transfer phases reported in Progress.
const (
	PhaseWriting = "writing"
	PhaseReading = "reading"
)

// Progress describes how far a transfer has come.
type Progress struct {
	// Phase is PhaseWriting or PhaseReading.
	Phase string

	// Chunk is the number of chunks completed so far.
	Chunk int

	// TotalChunks is the number of chunks of a write, or zero for reads
	// whose length is not known up front.
	TotalChunks int

	// Bytes is the number of bytes transferred so far.
	Bytes int

	// TotalBytes is the payload size of a write or the size bound of a read.
	TotalBytes int

	// Percentage is the completion percentage (0.0 to 100.0).
	Percentage float64

	// Elapsed is the time since the transfer started.
	Elapsed time.Duration
}

// ProgressCallback receives progress after every chunk. It runs on the
// goroutine performing the transfer and must return quickly.
type ProgressCallback func(Progress)

// Logger is the logging interface used by the engine. *slog.Logger
// satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

func percentage(done, total int) float64 {
	if total <= 0 {
		return 0
	}
	p := float64(done) / float64(total) * 100
	if p > 100 {
		return 100
	}
	return p
}
