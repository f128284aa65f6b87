// Package notify fans change events out to the configured sinks.
//
// A notification fires only for a non-empty change set. Every sink is tried
// independently and concurrently; a failing sink is logged and counted but
// never blocks the others or fails the crawl step. No retries happen here.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-watch/internal/crawler"
	"github.com/JakeFAU/storefront-watch/internal/metrics"
)

// Event types carried on every notification.
const (
	EventFirstSeen = "product.first_seen"
	EventChanged   = "product.changed"
)

const defaultTimeout = 10 * time.Second

// Event is the machine-readable notification payload.
type Event struct {
	EventType  string                `json:"eventType"`
	EventID    string                `json:"eventId"`
	OccurredAt time.Time             `json:"occurredAt"`
	Record     crawler.ProductRecord `json:"record"`
	Changes    crawler.ChangeSet     `json:"changes"`
}

// Sink delivers one event to one destination.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event Event) error
}

// Result summarizes one Dispatch call.
type Result struct {
	Fired     bool
	Delivered []string
	Failed    map[string]error
}

// Dispatcher owns the sink list.
type Dispatcher struct {
	sinks   []Sink
	ids     crawler.IDGenerator
	clock   crawler.Clock
	timeout time.Duration
	logger  *zap.Logger
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithTimeout bounds each sink delivery.
func WithTimeout(d time.Duration) Option {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.timeout = d
		}
	}
}

// NewDispatcher builds a Dispatcher over sinks. It is valid with zero sinks.
func NewDispatcher(sinks []Sink, ids crawler.IDGenerator, clock crawler.Clock, logger *zap.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		sinks:   sinks,
		ids:     ids,
		clock:   clock,
		timeout: defaultTimeout,
		logger:  logger.Named("notify"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Sinks returns the configured sink names.
func (d *Dispatcher) Sinks() []string {
	names := make([]string, 0, len(d.sinks))
	for _, s := range d.sinks {
		names = append(names, s.Name())
	}
	return names
}

// Dispatch notifies every sink about rec when its change set is non-empty.
func (d *Dispatcher) Dispatch(ctx context.Context, rec crawler.ProductRecord) Result {
	res := Result{Failed: map[string]error{}}
	if rec.DetectedChanges.IsEmpty() || len(d.sinks) == 0 {
		return res
	}
	res.Fired = true
	event := d.newEvent(rec)

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, sink := range d.sinks {
		wg.Add(1)
		go func(s Sink) {
			defer wg.Done()
			err := d.deliver(ctx, s, event)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed[s.Name()] = err
				return
			}
			res.Delivered = append(res.Delivered, s.Name())
		}(sink)
	}
	wg.Wait()
	return res
}

func (d *Dispatcher) deliver(ctx context.Context, s Sink, event Event) (err error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	defer func() {
		if rcv := recover(); rcv != nil {
			err = fmt.Errorf("sink panicked: %v", rcv)
		}
		status := "ok"
		if err != nil {
			status = "error"
			d.logger.Warn("notification delivery failed",
				zap.String("sink", s.Name()),
				zap.String("product_id", event.Record.ProductID),
				zap.String("event_id", event.EventID),
				zap.Error(err),
			)
		} else {
			d.logger.Debug("notification delivered",
				zap.String("sink", s.Name()),
				zap.String("product_id", event.Record.ProductID),
			)
		}
		metrics.ObserveNotification(s.Name(), status)
	}()
	return s.Deliver(ctx, event)
}

func (d *Dispatcher) newEvent(rec crawler.ProductRecord) Event {
	eventType := EventChanged
	if rec.DetectedChanges.FirstSeen {
		eventType = EventFirstSeen
	}
	var id string
	if d.ids != nil {
		if generated, err := d.ids.NewID(); err == nil {
			id = generated
		} else {
			d.logger.Warn("event id generation failed", zap.Error(err))
		}
	}
	at := time.Now().UTC()
	if d.clock != nil {
		at = d.clock.Now()
	}
	return Event{
		EventType:  eventType,
		EventID:    id,
		OccurredAt: at,
		Record:     rec,
		Changes:    rec.DetectedChanges,
	}
}
