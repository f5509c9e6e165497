package transfer

import "time"

// Defaults used when no option overrides them.
const (
	DefaultChunkSize   = 64 * 1024
	DefaultReadTimeout = 15 * time.Second
	DefaultMaxReadSize = 16 * 1024 * 1024
)

// Config holds the engine configuration.
type Config struct {
	// ChunkSize is the maximum number of bytes per positioned write or read.
	ChunkSize int

	// Alignment, when positive, stops chunks from crossing a multiple of
	// it, e.g. a flash page size.
	Alignment int

	// ReadTimeout bounds Read when the caller passes no timeout.
	ReadTimeout time.Duration

	// ProgressCallback is called after every chunk (optional).
	ProgressCallback ProgressCallback

	// Logger receives debug output (optional).
	Logger Logger

	// Verbose hex-dumps payloads to the debug log before they are written.
	Verbose bool
}

func defaultConfig() Config {
	return Config{
		ChunkSize:   DefaultChunkSize,
		ReadTimeout: DefaultReadTimeout,
		Logger:      noopLogger{},
	}
}

// Option is a functional option for configuring the Engine.
type Option func(*Config)

// WithChunkSize sets the maximum chunk size. Non-positive values are ignored.
func WithChunkSize(size int) Option {
	return func(c *Config) {
		if size > 0 {
			c.ChunkSize = size
		}
	}
}

// WithAlignment sets the boundary chunks must not cross.
func WithAlignment(alignment int) Option {
	return func(c *Config) {
		if alignment >= 0 {
			c.Alignment = alignment
		}
	}
}

// WithReadTimeout sets the default read timeout.
func WithReadTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.ReadTimeout = timeout
		}
	}
}

// WithProgressCallback sets the progress callback.
//
// Example:
//
//	eng := transfer.New(transfer.WithProgressCallback(func(p transfer.Progress) {
//	    log.Printf("%s %d/%d", p.Phase, p.Chunk, p.TotalChunks)
//	}))
func WithProgressCallback(callback ProgressCallback) Option {
	return func(c *Config) {
		c.ProgressCallback = callback
	}
}

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// WithVerbose enables payload hex dumps.
func WithVerbose(verbose bool) Option {
	return func(c *Config) {
		c.Verbose = verbose
	}
}
