package alerts

import (
	"context"
	"sync"
	"time"

	"callguard/internal/models"

	"go.uber.org/zap"
)

const notifyTimeout = 10 * time.Second

// Notifier delivers alert events to one destination
type Notifier interface {
	Name() string
	Notify(ctx context.Context, event Event) error
}

// Dispatcher fans detections out to notifiers without blocking the caller.
// Delivery failures are logged and otherwise ignored.
type Dispatcher struct {
	policy Policy
	logger *zap.Logger
	wg     sync.WaitGroup

	mu        sync.RWMutex
	notifiers []Notifier
}

// NewDispatcher creates a dispatcher. Nil notifiers are skipped.
func NewDispatcher(policy Policy, logger *zap.Logger, notifiers ...Notifier) *Dispatcher {
	d := &Dispatcher{policy: policy, logger: logger}
	for _, n := range notifiers {
		if n != nil {
			d.notifiers = append(d.notifiers, n)
		}
	}
	return d
}

// Register adds a notifier after construction, for notifiers that depend on
// the component holding the dispatcher
func (d *Dispatcher) Register(n Notifier) {
	if n == nil {
		return
	}
	d.mu.Lock()
	d.notifiers = append(d.notifiers, n)
	d.mu.Unlock()
}

// Dispatch raises an alert for a stored detection and returns the event.
// Detections below the warn threshold are not delivered.
func (d *Dispatcher) Dispatch(sessionID string, det *models.Detection) Event {
	event := d.policy.NewEvent(sessionID, det)

	d.mu.RLock()
	notifiers := d.notifiers
	d.mu.RUnlock()

	if event.Level == LevelNone || len(notifiers) == 0 {
		return event
	}

	d.logger.Info("Dispatching scam alert",
		zap.String("session_id", sessionID),
		zap.String("detection_id", det.ID),
		zap.String("level", string(event.Level)),
		zap.Int("confidence", det.Confidence))

	for _, n := range notifiers {
		d.wg.Add(1)
		go func(n Notifier) {
			defer d.wg.Done()

			ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
			defer cancel()

			if err := n.Notify(ctx, event); err != nil {
				d.logger.Warn("Alert delivery failed",
					zap.String("notifier", n.Name()),
					zap.String("detection_id", det.ID),
					zap.Error(err))
			}
		}(n)
	}

	return event
}

// Wait blocks until in-flight deliveries finish or ctx is done
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
