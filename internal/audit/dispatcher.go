// Package audit records every issuance decision without putting the write
// on the claim path.
package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/azizikri/coupon-issuance/internal/domain"
	"go.uber.org/zap"
)

type Sink interface {
	Name() string
	Write(ctx context.Context, entry domain.AuditEntry) error
}

type Dispatcher struct {
	entries      chan domain.AuditEntry
	sinks        []Sink
	writeTimeout time.Duration
	logger       *zap.Logger

	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
	dropped atomic.Int64
}

// NewDispatcher starts the fan-out goroutine. Close must be called to flush.
func NewDispatcher(bufferSize int, logger *zap.Logger, sinks ...Sink) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		entries:      make(chan domain.AuditEntry, bufferSize),
		sinks:        sinks,
		writeTimeout: 2 * time.Second,
		logger:       logger,
		done:         make(chan struct{}),
	}
	go d.run()
	return d
}

// Append enqueues entry and returns immediately. When the buffer is full the
// entry is dropped and counted.
func (d *Dispatcher) Append(entry domain.AuditEntry) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(entry, "dispatcher closed")
		return
	}
	select {
	case d.entries <- entry:
	default:
		d.drop(entry, "buffer full")
	}
}

func (d *Dispatcher) drop(entry domain.AuditEntry, reason string) {
	n := d.dropped.Add(1)
	d.logger.Warn("audit entry dropped",
		zap.String("reason", reason),
		zap.String("campaign_id", entry.CampaignID),
		zap.String("requester_id", entry.RequesterID),
		zap.String("outcome", string(entry.Outcome)),
		zap.Int64("dropped_total", n),
	)
}

func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for entry := range d.entries {
		for _, s := range d.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), d.writeTimeout)
			if err := s.Write(ctx, entry); err != nil {
				d.logger.Error("audit sink write failed",
					zap.String("sink", s.Name()),
					zap.String("audit_id", entry.ID),
					zap.Error(err),
				)
			}
			cancel()
		}
	}
}

// Close stops accepting entries and waits until the buffer is drained or ctx
// is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.entries)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
