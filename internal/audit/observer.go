package audit

import (
	"context"
	"time"

	"github.com/DylanVanAssche/fwupd/internal/lifecycle"
	"github.com/DylanVanAssche/fwupd/internal/transfer"
)

// writeTimeout bounds a single journal write.
const writeTimeout = 5 * time.Second

// Logger is the logging interface used by the observer.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Observer journals lifecycle events. Progress ticks and state changes
// are not recorded.
type Observer struct {
	repo   Repository
	logger Logger
}

// NewObserver creates an observer writing to repo.
func NewObserver(repo Repository, logger Logger) *Observer {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Observer{repo: repo, logger: logger}
}

// OnEvent implements lifecycle.Observer. Write failures are logged.
func (o *Observer) OnEvent(e lifecycle.Event) {
	log, ok := entryFor(e)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := o.repo.Create(ctx, log); err != nil {
		o.logger.Warn("writing audit log failed", "device_id", e.DeviceID, "action", log.Action, "error", err)
	}
}

func entryFor(e lifecycle.Event) (*AuditLog, bool) {
	log := &AuditLog{
		DeviceID:  e.DeviceID,
		Plugin:    e.Plugin,
		Success:   true,
		CreatedAt: e.Time.UTC(),
	}
	switch e.Kind {
	case lifecycle.EventAdded:
		log.Action = ActionAdded
	case lifecycle.EventRemoved:
		log.Action = ActionRemoved
	case lifecycle.EventTransferFinished:
		log.Action = ActionInstall
		if p := e.Progress; p != nil {
			if p.Phase == transfer.PhaseReading {
				log.Action = ActionDump
			}
			log.Bytes = p.Bytes
			log.Elapsed = p.Elapsed
			if p.TotalChunks > 0 {
				log.Details = map[string]any{"chunks": p.Chunk, "total_chunks": p.TotalChunks}
			}
		}
		if e.Err != nil {
			log.Success = false
			log.Error = e.Err.Error()
		}
	default:
		return nil, false
	}
	return log, true
}
