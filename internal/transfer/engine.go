package transfer

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/valyala/bytebufferpool"

	"github.com/DylanVanAssche/fwupd/internal/fwerr"
)

// Target is a transport that accepts positioned writes. *os.File and the
// handles in the transport package satisfy it.
type Target interface {
	io.Seeker
	io.WriterAt
}

// Engine performs chunked transfers.
//
// Engine holds no per-transfer state and is safe for concurrent use; the
// targets it writes to are not.
type Engine struct {
	config Config
}

// New creates an Engine with the given options.
func New(opts ...Option) *Engine {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Engine{config: cfg}
}

// With returns a copy of e with additional options applied.
func (e *Engine) With(opts ...Option) *Engine {
	cfg := e.config
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Engine{config: cfg}
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.config
}

// Write splits blob and writes it to t starting at address start.
//
// The target is rewound to start before the first chunk. Chunks are
// written strictly in order; the first failure aborts the transfer and no
// later chunk is attempted. Progress is reported after every chunk that
// was written completely.
func (e *Engine) Write(ctx context.Context, t Target, blob []byte, start uint64) error {
	chunks, err := Split(blob, start, e.config.Alignment, e.config.ChunkSize)
	if err != nil {
		return fwerr.Reclassify(fwerr.ErrFailed, err, "splitting payload")
	}

	log := e.config.Logger
	log.Debug("writing payload",
		"size", len(blob),
		"start", fmt.Sprintf("0x%x", start),
		"chunks", len(chunks),
		"chunk_size", e.config.ChunkSize,
	)
	if e.config.Verbose {
		log.Debug("payload dump", "hex", hex.Dump(blob))
	}

	if _, err := t.Seek(int64(start), io.SeekStart); err != nil { //nolint:gosec // addresses fit in int64
		return fwerr.Reclassify(fwerr.ErrFailed, err, fmt.Sprintf("seeking to 0x%x", start))
	}

	startTime := time.Now()
	written := 0
	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return fwerr.Reclassify(fwerr.ErrCancelled, err, fmt.Sprintf("before chunk %d of %d", c.Index, len(chunks)))
		}

		if _, err := t.WriteAt(c.Data, int64(c.Address)); err != nil { //nolint:gosec // addresses fit in int64
			log.Error("chunk write failed", "chunk", c.Index, "address", fmt.Sprintf("0x%x", c.Address), "error", err)
			return fwerr.Reclassify(fwerr.ErrFailed, err, fmt.Sprintf("writing %s", c))
		}

		written += c.Len()
		e.report(Progress{
			Phase:       PhaseWriting,
			Chunk:       c.Index + 1,
			TotalChunks: len(chunks),
			Bytes:       written,
			TotalBytes:  len(blob),
			Percentage:  percentage(c.Index+1, len(chunks)),
			Elapsed:     time.Since(startTime),
		})
	}

	log.Debug("payload written", "bytes", written, "elapsed", time.Since(startTime))
	return nil
}

// Read accumulates chunk-sized reads from r until EOF or maxSize bytes.
//
// timeout bounds the whole read and is checked between chunks. A
// non-positive maxSize or timeout selects the engine default. Failures are
// classified as fwerr.ErrReadError; cancellation as fwerr.ErrCancelled.
func (e *Engine) Read(ctx context.Context, r io.Reader, maxSize int, timeout time.Duration) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxReadSize
	}
	if timeout <= 0 {
		timeout = e.config.ReadTimeout
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	startTime := time.Now()
	deadline := startTime.Add(timeout)
	chunk := make([]byte, min(e.config.ChunkSize, maxSize))
	reads := 0

	for buf.Len() < maxSize {
		if err := ctx.Err(); err != nil {
			return nil, fwerr.Reclassify(fwerr.ErrCancelled, err, fmt.Sprintf("after %d bytes", buf.Len()))
		}
		if time.Now().After(deadline) {
			return nil, fwerr.ReadError("timed out after %s with %d bytes read", timeout, buf.Len())
		}

		n, err := r.Read(chunk[:min(len(chunk), maxSize-buf.Len())])
		if n > 0 {
			_, _ = buf.Write(chunk[:n])
			reads++
			e.report(Progress{
				Phase:      PhaseReading,
				Chunk:      reads,
				Bytes:      buf.Len(),
				TotalBytes: maxSize,
				Percentage: percentage(buf.Len(), maxSize),
				Elapsed:    time.Since(startTime),
			})
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fwerr.Reclassify(fwerr.ErrReadError, err, fmt.Sprintf("reading at offset 0x%x", buf.Len()))
		}
	}

	e.config.Logger.Debug("payload read", "bytes", buf.Len(), "elapsed", time.Since(startTime))
	return append([]byte(nil), buf.B...), nil
}

func (e *Engine) report(p Progress) {
	if e.config.ProgressCallback != nil {
		e.config.ProgressCallback(p)
	}
}
