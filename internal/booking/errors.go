package booking

import (
	"errors"
	"fmt"

	"clinic-finder-server/internal/storage"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrSlotUnavailable   = errors.New("slot unavailable")
	ErrIllegalTransition = errors.New("illegal transition")
	ErrForbidden         = errors.New("forbidden")
	ErrUnauthenticated   = errors.New("authentication required")
	ErrStorage           = errors.New("storage failure")
	// ErrNotification is only ever reported through a Delivery.
	ErrNotification = errors.New("notification failed")
)

// Kind names the error class of err for logs and metric labels.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrSlotUnavailable):
		return "slot_unavailable"
	case errors.Is(err, ErrIllegalTransition):
		return "illegal_transition"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrNotification):
		return "notification"
	default:
		return "storage"
	}
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// fromStore maps storage sentinels onto booking errors. what names the
// missing entity for NotFound messages.
func fromStore(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	case errors.Is(err, storage.ErrSlotTaken):
		return fmt.Errorf("%w: the requested time is already booked", ErrSlotUnavailable)
	case errors.Is(err, storage.ErrStaleState):
		return fmt.Errorf("%w: appointment is already cancelled", ErrIllegalTransition)
	default:
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
}
