// Package notify delivers auction events to users off the bidding path.
//
// The engine publishes events only after its transaction committed. Publish
// never blocks: when the queue is full the event is dropped and logged.
// Delivery errors are logged and never reported back to the publisher.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/csc13008-assignments/csc13008-jewelbid-sub000/pkg/types"
)

// Sink delivers a single event.
type Sink interface {
	Deliver(ctx context.Context, event types.Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, event types.Event) error

func (f SinkFunc) Deliver(ctx context.Context, event types.Event) error {
	return f(ctx, event)
}

// Publisher is what the engine depends on.
type Publisher interface {
	Publish(events ...types.Event)
}

// Fanout delivers every event to all sinks and joins their errors.
func Fanout(sinks ...Sink) Sink {
	return SinkFunc(func(ctx context.Context, event types.Event) error {
		var errs []error
		for _, sink := range sinks {
			if err := sink.Deliver(ctx, event); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

type Options struct {
	QueueSize       int
	Workers         int
	DeliveryTimeout time.Duration
}

// Dispatcher is a bounded queue drained by a fixed set of workers.
type Dispatcher struct {
	sink    Sink
	timeout time.Duration
	workers int

	mu     sync.RWMutex
	closed bool
	queue  chan types.Event
	wg     sync.WaitGroup
}

func NewDispatcher(sink Sink, opts Options) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = 5 * time.Second
	}
	d := &Dispatcher{
		sink:    sink,
		timeout: opts.DeliveryTimeout,
		workers: opts.Workers,
		queue:   make(chan types.Event, opts.QueueSize),
	}
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
	return d
}

// Publish enqueues events without waiting for delivery.
func (d *Dispatcher) Publish(events ...types.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		log.Warn("Dispatcher closed, dropping notifications", "count", len(events))
		return
	}
	for _, event := range events {
		select {
		case d.queue <- event:
		default:
			log.Warn("Notification queue full, dropping event",
				"kind", event.Kind, "auction", event.AuctionID, "recipient", event.RecipientID)
		}
	}
}

// Close stops accepting events, delivers what is queued and waits for the
// workers to exit.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for event := range d.queue {
		d.deliver(event)
	}
}

func (d *Dispatcher) deliver(event types.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	defer func() {
		if p := recover(); p != nil {
			log.Error("Notification sink panicked", "kind", event.Kind, "auction", event.AuctionID, "panic", p)
		}
	}()
	if err := d.sink.Deliver(ctx, event); err != nil {
		log.Error("Failed to deliver notification",
			"kind", event.Kind, "auction", event.AuctionID, "recipient", event.RecipientID, "err", err)
	}
}

// LogSink writes every event to the application log.
func LogSink() Sink {
	return SinkFunc(func(_ context.Context, event types.Event) error {
		log.Info("Notification",
			"kind", event.Kind, "auction", event.AuctionID, "recipient", event.RecipientID, "price", event.Price)
		return nil
	})
}
