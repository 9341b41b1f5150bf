package booking

import (
	"context"
	"sync"

	"clinic-finder-server/internal/models"
)

// Event is the kind of change a notification reports.
type Event string

const (
	EventBooked      Event = "booked"
	EventCancelled   Event = "cancelled"
	EventRescheduled Event = "rescheduled"
)

// Notice is handed to the Notifier after a change has been committed.
type Notice struct {
	Event       Event
	Appointment models.Appointment
	Clinic      models.Clinic
}

// Notifier delivers patient notifications. Failures never undo the change.
type Notifier interface {
	Notify(ctx context.Context, notice Notice) error
}

// Delivery tracks one asynchronous notification.
type Delivery struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newDelivery() *Delivery {
	return &Delivery{done: make(chan struct{})}
}

// Skipped returns a Delivery that is already complete.
func Skipped() *Delivery {
	d := newDelivery()
	d.finish(nil)
	return d
}

func (d *Delivery) finish(err error) {
	d.once.Do(func() {
		d.err = err
		close(d.done)
	})
}

// Done is closed once the notification attempt has finished.
func (d *Delivery) Done() <-chan struct{} {
	return d.done
}

// Err returns the outcome; nil until Done is closed.
func (d *Delivery) Err() error {
	select {
	case <-d.done:
		return d.err
	default:
		return nil
	}
}

// Wait blocks until the attempt finishes or ctx ends.
func (d *Delivery) Wait(ctx context.Context) error {
	select {
	case <-d.done:
		return d.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receipt is the result of a committed booking change.
type Receipt struct {
	Appointment models.Appointment
	Delivery    *Delivery
}
