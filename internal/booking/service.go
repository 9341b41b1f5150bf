package booking

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"clinic-finder-server/internal/logging"
	"clinic-finder-server/internal/metrics"
	"clinic-finder-server/internal/models"
	"clinic-finder-server/internal/schedule"
)

var bookingTracer = otel.Tracer("clinicfinder.internal.booking")

// Store is the persistence the booking core needs. InsertAppointmentIfSlotFree
// and RescheduleIfSlotFree must check and write atomically.
type Store interface {
	FindClinic(ctx context.Context, id uint) (models.Clinic, error)
	FindWeeklyHours(ctx context.Context, clinicID uint) ([]models.ClinicHours, error)
	FindAppointmentsOnDate(ctx context.Context, clinicID uint, date string) ([]models.Appointment, error)
	FindAppointmentByID(ctx context.Context, id uint) (models.Appointment, error)
	InsertAppointmentIfSlotFree(ctx context.Context, appt *models.Appointment) error
	UpdateAppointmentStatus(ctx context.Context, id uint, status models.AppointmentStatus, change models.StatusChange) (models.Appointment, error)
	RescheduleIfSlotFree(ctx context.Context, id uint, date, clock string) (models.Appointment, error)
	DeleteAppointment(ctx context.Context, id uint) error
}

// Principal is the caller on whose behalf an operation runs. The zero value is a guest.
type Principal struct {
	UserID string
	Role   models.Role
}

func (p Principal) IsGuest() bool { return p.UserID == "" }
func (p Principal) IsAdmin() bool { return p.Role == models.RoleAdmin }

// BookingRequest carries the raw fields of a booking form.
type BookingRequest struct {
	ClinicID    string
	Service     string
	Date        string
	Time        string
	FirstName   string
	LastName    string
	Email       string
	Phone       string
	DateOfBirth string
	Reason      string
	Insurance   string
}

// Options tune a Service. Zero values fall back to 30 minute slots, UTC,
// a 15 second notification budget and the wall clock.
type Options struct {
	Granularity   time.Duration
	Location      *time.Location
	NotifyTimeout time.Duration
	Now           func() time.Time
}

// Service implements availability, booking and the appointment lifecycle.
type Service struct {
	store    Store
	notifier Notifier
	metrics  *metrics.BookingMetrics
	logger   *logging.Logger
	validate *validator.Validate
	opts     Options
}

// NewService constructs a booking service. notifier and m may be nil.
func NewService(store Store, notifier Notifier, m *metrics.BookingMetrics, logger *logging.Logger, opts Options) *Service {
	if store == nil {
		panic("booking: store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if opts.Granularity <= 0 {
		opts.Granularity = 30 * time.Minute
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = 15 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store:    store,
		notifier: notifier,
		metrics:  m,
		logger:   logger.With("component", "booking"),
		validate: validator.New(),
		opts:     opts,
	}
}

// ResolveAvailability lists the free slots of a clinic on date, in slot order.
// A clinic that is closed that weekday, or inactive, has no availability.
func (s *Service) ResolveAvailability(ctx context.Context, clinicID uint, date string) (slots []string, err error) {
	ctx, span := bookingTracer.Start(ctx, "booking.availability")
	defer span.End()
	defer s.observe(span, "availability", time.Now(), &err)
	span.SetAttributes(
		attribute.Int64("clinicfinder.clinic_id", int64(clinicID)),
		attribute.String("clinicfinder.date", date),
	)

	day, err := schedule.ParseDate(date)
	if err != nil {
		return nil, validationf("%v", err)
	}

	clinic, err := s.store.FindClinic(ctx, clinicID)
	if err != nil {
		return nil, fromStore(err, "clinic")
	}
	if !clinic.IsActive() {
		return []string{}, nil
	}

	candidates, err := s.slotsFor(ctx, clinicID, day)
	if err != nil || len(candidates) == 0 {
		return candidates, err
	}

	appts, err := s.store.FindAppointmentsOnDate(ctx, clinicID, date)
	if err != nil {
		return nil, fromStore(err, "appointments")
	}
	booked := make(map[string]struct{}, len(appts))
	for _, a := range appts {
		if c, perr := schedule.ParseClock(a.AppointmentTime); perr == nil {
			booked[c.String()] = struct{}{}
		}
	}
	return schedule.Subtract(candidates, booked), nil
}

// Book validates req and reserves the slot. Guest bookings skip the account
// check; every other path requires an authenticated principal.
func (s *Service) Book(ctx context.Context, p Principal, req BookingRequest, guest bool) (receipt Receipt, err error) {
	ctx, span := bookingTracer.Start(ctx, "booking.book")
	defer span.End()
	defer s.observe(span, "book", time.Now(), &err)
	span.SetAttributes(attribute.Bool("clinicfinder.guest", guest))

	clinicID, day, clock, err := s.validateRequest(req)
	if err != nil {
		return Receipt{}, err
	}
	date := day.Format(schedule.DateLayout)
	span.SetAttributes(
		attribute.Int64("clinicfinder.clinic_id", int64(clinicID)),
		attribute.String("clinicfinder.date", date),
		attribute.String("clinicfinder.time", clock.String()),
	)

	clinic, err := s.store.FindClinic(ctx, clinicID)
	if err != nil {
		return Receipt{}, fromStore(err, "clinic")
	}
	if !guest && p.IsGuest() {
		return Receipt{}, fmt.Errorf("%w: sign in to book with an account", ErrUnauthenticated)
	}
	if !clinic.IsActive() {
		return Receipt{}, validationf("clinic %d is not accepting bookings", clinicID)
	}
	if day.Before(s.today()) {
		return Receipt{}, validationf("date %s is in the past", date)
	}
	if err := s.requireSlot(ctx, clinicID, day, clock); err != nil {
		return Receipt{}, err
	}

	appt := models.Appointment{
		ClinicID:         clinicID,
		PatientFirstName: strings.TrimSpace(req.FirstName),
		PatientLastName:  strings.TrimSpace(req.LastName),
		PatientEmail:     strings.TrimSpace(req.Email),
		PatientPhone:     strings.TrimSpace(req.Phone),
		PatientDOB:       strings.TrimSpace(req.DateOfBirth),
		Service:          strings.TrimSpace(req.Service),
		AppointmentDate:  date,
		AppointmentTime:  clock.String(),
		Status:           models.StatusConfirmed,
		Reason:           strings.TrimSpace(req.Reason),
		Insurance:        strings.TrimSpace(req.Insurance),
	}
	if !p.IsGuest() {
		userID := p.UserID
		appt.UserID = &userID
	}

	if err := s.store.InsertAppointmentIfSlotFree(ctx, &appt); err != nil {
		return Receipt{}, fromStore(err, "clinic")
	}

	s.logger.Info("appointment booked",
		"appointment_id", appt.ID, "clinic_id", clinicID, "date", date, "time", appt.AppointmentTime, "guest", appt.IsGuest())
	return Receipt{
		Appointment: appt,
		Delivery:    s.dispatch(ctx, Notice{Event: EventBooked, Appointment: appt, Clinic: clinic}),
	}, nil
}

// Cancel moves a live, not-yet-past appointment to cancelled.
func (s *Service) Cancel(ctx context.Context, p Principal, id uint, reason string) (receipt Receipt, err error) {
	ctx, span := bookingTracer.Start(ctx, "booking.cancel")
	defer span.End()
	defer s.observe(span, "cancel", time.Now(), &err)
	span.SetAttributes(attribute.Int64("clinicfinder.appointment_id", int64(id)))

	appt, err := s.store.FindAppointmentByID(ctx, id)
	if err != nil {
		return Receipt{}, fromStore(err, "appointment")
	}
	if err := s.checkMutable(appt); err != nil {
		return Receipt{}, err
	}
	if err := authorize(p, appt); err != nil {
		return Receipt{}, err
	}

	updated, err := s.store.UpdateAppointmentStatus(ctx, id, models.StatusCancelled, models.StatusChange{
		At:     s.opts.Now().UTC(),
		Reason: strings.TrimSpace(reason),
	})
	if err != nil {
		return Receipt{}, fromStore(err, "appointment")
	}

	s.logger.Info("appointment cancelled", "appointment_id", id, "clinic_id", updated.ClinicID, "by", p.UserID)
	clinic := s.clinicForNotice(ctx, updated.ClinicID)
	return Receipt{
		Appointment: updated,
		Delivery:    s.dispatch(ctx, Notice{Event: EventCancelled, Appointment: updated, Clinic: clinic}),
	}, nil
}

// Reschedule moves a live appointment to another free slot of the same clinic.
func (s *Service) Reschedule(ctx context.Context, p Principal, id uint, date, clockText string) (receipt Receipt, err error) {
	ctx, span := bookingTracer.Start(ctx, "booking.reschedule")
	defer span.End()
	defer s.observe(span, "reschedule", time.Now(), &err)
	span.SetAttributes(attribute.Int64("clinicfinder.appointment_id", int64(id)))

	day, err := schedule.ParseDate(strings.TrimSpace(date))
	if err != nil {
		return Receipt{}, validationf("%v", err)
	}
	clock, err := schedule.ParseClock(strings.TrimSpace(clockText))
	if err != nil {
		return Receipt{}, validationf("%v", err)
	}

	appt, err := s.store.FindAppointmentByID(ctx, id)
	if err != nil {
		return Receipt{}, fromStore(err, "appointment")
	}
	if err := s.checkMutable(appt); err != nil {
		return Receipt{}, err
	}
	if err := authorize(p, appt); err != nil {
		return Receipt{}, err
	}
	if day.Before(s.today()) {
		return Receipt{}, validationf("date %s is in the past", day.Format(schedule.DateLayout))
	}

	clinic, err := s.store.FindClinic(ctx, appt.ClinicID)
	if err != nil {
		return Receipt{}, fromStore(err, "clinic")
	}
	if !clinic.IsActive() {
		return Receipt{}, validationf("clinic %d is not accepting bookings", clinic.ID)
	}
	if err := s.requireSlot(ctx, appt.ClinicID, day, clock); err != nil {
		return Receipt{}, err
	}

	newDate := day.Format(schedule.DateLayout)
	updated, err := s.store.RescheduleIfSlotFree(ctx, id, newDate, clock.String())
	if err != nil {
		return Receipt{}, fromStore(err, "appointment")
	}

	s.logger.Info("appointment rescheduled",
		"appointment_id", id, "from_date", appt.AppointmentDate, "from_time", appt.AppointmentTime,
		"to_date", newDate, "to_time", updated.AppointmentTime)
	return Receipt{
		Appointment: updated,
		Delivery:    s.dispatch(ctx, Notice{Event: EventRescheduled, Appointment: updated, Clinic: clinic}),
	}, nil
}

// AdminDelete hard-deletes an appointment. Only admins may do this.
func (s *Service) AdminDelete(ctx context.Context, p Principal, id uint) (err error) {
	ctx, span := bookingTracer.Start(ctx, "booking.admin_delete")
	defer span.End()
	defer s.observe(span, "admin_delete", time.Now(), &err)
	span.SetAttributes(attribute.Int64("clinicfinder.appointment_id", int64(id)))

	if !p.IsAdmin() {
		return fmt.Errorf("%w: only admins can delete appointments", ErrForbidden)
	}
	if err := s.store.DeleteAppointment(ctx, id); err != nil {
		return fromStore(err, "appointment")
	}
	s.logger.Warn("appointment deleted by admin", "appointment_id", id, "admin_id", p.UserID)
	return nil
}

func (s *Service) validateRequest(req BookingRequest) (uint, time.Time, schedule.Clock, error) {
	rawID := strings.TrimSpace(req.ClinicID)
	if rawID == "" {
		return 0, time.Time{}, 0, validationf("clinicId is required")
	}
	clinicID, err := strconv.ParseUint(rawID, 10, 64)
	if err != nil || clinicID == 0 {
		return 0, time.Time{}, 0, validationf("clinicId must be a positive number")
	}

	if strings.TrimSpace(req.Service) == "" || strings.TrimSpace(req.Date) == "" || strings.TrimSpace(req.Time) == "" {
		return 0, time.Time{}, 0, validationf("service, date and time are required")
	}
	day, err := schedule.ParseDate(strings.TrimSpace(req.Date))
	if err != nil {
		return 0, time.Time{}, 0, validationf("%v", err)
	}
	clock, err := schedule.ParseClock(strings.TrimSpace(req.Time))
	if err != nil {
		return 0, time.Time{}, 0, validationf("%v", err)
	}

	if strings.TrimSpace(req.FirstName) == "" || strings.TrimSpace(req.LastName) == "" || strings.TrimSpace(req.Email) == "" {
		return 0, time.Time{}, 0, validationf("first name, last name and email are required")
	}
	if err := s.validate.Var(strings.TrimSpace(req.Email), "email"); err != nil {
		return 0, time.Time{}, 0, validationf("email %q is not valid", req.Email)
	}
	if dob := strings.TrimSpace(req.DateOfBirth); dob != "" {
		if _, err := schedule.ParseDate(dob); err != nil {
			return 0, time.Time{}, 0, validationf("date of birth: %v", err)
		}
	}
	return uint(clinicID), day, clock, nil
}

// slotsFor generates the clinic's slots for the weekday of day.
func (s *Service) slotsFor(ctx context.Context, clinicID uint, day time.Time) ([]string, error) {
	hours, err := s.store.FindWeeklyHours(ctx, clinicID)
	if err != nil {
		return nil, fromStore(err, "clinic hours")
	}
	for _, h := range hours {
		if h.DayOfWeek != int(day.Weekday()) {
			continue
		}
		open, err := schedule.ParseClock(h.OpeningTime)
		if err != nil {
			return nil, fmt.Errorf("%w: clinic %d opening time: %v", ErrStorage, clinicID, err)
		}
		closing, err := schedule.ParseClock(h.ClosingTime)
		if err != nil {
			return nil, fmt.Errorf("%w: clinic %d closing time: %v", ErrStorage, clinicID, err)
		}
		return schedule.GenerateSlots(open, closing, s.opts.Granularity), nil
	}
	return []string{}, nil
}

func (s *Service) requireSlot(ctx context.Context, clinicID uint, day time.Time, clock schedule.Clock) error {
	slots, err := s.slotsFor(ctx, clinicID, day)
	if err != nil {
		return err
	}
	if !slices.Contains(slots, clock.String()) {
		return validationf("%s is not a bookable time on %s", clock, day.Format(schedule.DateLayout))
	}
	return nil
}

// checkMutable rejects cancelled and past appointments.
func (s *Service) checkMutable(appt models.Appointment) error {
	if appt.Status == models.StatusCancelled {
		return fmt.Errorf("%w: appointment %d is already cancelled", ErrIllegalTransition, appt.ID)
	}
	day, err := schedule.ParseDate(appt.AppointmentDate)
	if err != nil {
		return fmt.Errorf("%w: appointment %d has a malformed date: %v", ErrStorage, appt.ID, err)
	}
	if day.Before(s.today()) {
		return fmt.Errorf("%w: appointment %d is in the past", ErrIllegalTransition, appt.ID)
	}
	return nil
}

func authorize(p Principal, appt models.Appointment) error {
	switch {
	case p.IsAdmin():
		return nil
	case p.IsGuest():
		return fmt.Errorf("%w: sign in to change an appointment", ErrUnauthenticated)
	case appt.OwnedBy(p.UserID):
		return nil
	default:
		return fmt.Errorf("%w: appointment %d belongs to someone else", ErrForbidden, appt.ID)
	}
}

// today is the current calendar date in the service location, as UTC midnight
// so it compares directly with parsed dates.
func (s *Service) today() time.Time {
	now := s.opts.Now().In(s.opts.Location)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

func (s *Service) clinicForNotice(ctx context.Context, id uint) models.Clinic {
	clinic, err := s.store.FindClinic(ctx, id)
	if err != nil {
		s.logger.Warn("clinic lookup for notification failed", "clinic_id", id, "error", err)
		return models.Clinic{NumericModel: models.NumericModel{ID: id}}
	}
	return clinic
}

// dispatch runs the notifier in the background once a change is committed.
// The notification outlives the request but not NotifyTimeout.
func (s *Service) dispatch(ctx context.Context, notice Notice) *Delivery {
	if s.notifier == nil {
		return Skipped()
	}

	d := newDelivery()
	detached := context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(detached, s.opts.NotifyTimeout)
		defer cancel()

		outcome := "sent"
		err := s.notify(ctx, notice)
		if err != nil {
			outcome = "failed"
			err = fmt.Errorf("%w: %v", ErrNotification, err)
			s.logger.Warn("appointment notification failed",
				"event", notice.Event, "appointment_id", notice.Appointment.ID, "error", err)
		}
		s.metrics.ObserveNotification(string(notice.Event), outcome)
		d.finish(err)
	}()
	return d
}

func (s *Service) notify(ctx context.Context, notice Notice) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panic: %v", r)
		}
	}()
	return s.notifier.Notify(ctx, notice)
}

func (s *Service) observe(span trace.Span, operation string, started time.Time, errp *error) {
	err := *errp
	s.metrics.ObserveOperation(operation, Kind(err), time.Since(started).Seconds())
	if err == nil {
		return
	}
	span.RecordError(err)
	if errors.Is(err, ErrStorage) {
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("booking operation failed", "operation", operation, "error", err)
	}
}
