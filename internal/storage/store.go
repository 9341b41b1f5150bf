package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"clinic-finder-server/internal/models"
)

var (
	// ErrNotFound means the requested row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate means a unique index rejected the write.
	ErrDuplicate = errors.New("duplicate record")
	// ErrSlotTaken means a live appointment already holds the slot.
	ErrSlotTaken = errors.New("slot already taken")
	// ErrStaleState means a conditional update matched no row because the
	// appointment changed state in between.
	ErrStaleState = errors.New("appointment state changed")
)

// GormStore is the relational store behind clinics and appointments.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// ClinicFilter narrows clinic listings. Zero values match everything.
type ClinicFilter struct {
	Query  string
	City   string
	Status models.ClinicStatus
}

// AppointmentFilter narrows a clinic's appointment listing.
type AppointmentFilter struct {
	Date   string
	Status models.AppointmentStatus
}

func (s *GormStore) FindClinic(ctx context.Context, id uint) (models.Clinic, error) {
	var clinic models.Clinic
	if err := s.db.WithContext(ctx).First(&clinic, id).Error; err != nil {
		return models.Clinic{}, translate(err)
	}
	return clinic, nil
}

// FindClinicWithHours loads a clinic and its weekly hours ordered by weekday.
func (s *GormStore) FindClinicWithHours(ctx context.Context, id uint) (models.Clinic, error) {
	var clinic models.Clinic
	err := s.db.WithContext(ctx).
		Preload("Hours", func(db *gorm.DB) *gorm.DB { return db.Order("day_of_week ASC") }).
		First(&clinic, id).Error
	if err != nil {
		return models.Clinic{}, translate(err)
	}
	return clinic, nil
}

func (s *GormStore) FindWeeklyHours(ctx context.Context, clinicID uint) ([]models.ClinicHours, error) {
	var hours []models.ClinicHours
	err := s.db.WithContext(ctx).
		Where("clinic_id = ?", clinicID).
		Order("day_of_week ASC").
		Find(&hours).Error
	if err != nil {
		return nil, translate(err)
	}
	return hours, nil
}

// FindAppointmentsOnDate returns the live (non-cancelled) appointments of a clinic on date.
func (s *GormStore) FindAppointmentsOnDate(ctx context.Context, clinicID uint, date string) ([]models.Appointment, error) {
	var appts []models.Appointment
	err := s.db.WithContext(ctx).
		Where("clinic_id = ? AND appointment_date = ? AND status <> ?", clinicID, date, models.StatusCancelled).
		Order("appointment_time ASC").
		Find(&appts).Error
	if err != nil {
		return nil, translate(err)
	}
	return appts, nil
}

func (s *GormStore) FindAppointmentByID(ctx context.Context, id uint) (models.Appointment, error) {
	var appt models.Appointment
	if err := s.db.WithContext(ctx).First(&appt, id).Error; err != nil {
		return models.Appointment{}, translate(err)
	}
	return appt, nil
}

// InsertAppointmentIfSlotFree re-checks the slot and inserts appt in one transaction.
// The unique slot index backs the check up when another writer commits in between.
func (s *GormStore) InsertAppointmentIfSlotFree(ctx context.Context, appt *models.Appointment) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		taken, err := slotTaken(tx, appt.ClinicID, appt.AppointmentDate, appt.AppointmentTime, 0)
		if err != nil {
			return err
		}
		if taken {
			return ErrSlotTaken
		}

		hold := true
		appt.SlotHold = &hold
		if err := tx.Create(appt).Error; err != nil {
			appt.SlotHold = nil
			return slotConflict(translate(err))
		}
		return nil
	})
}

// UpdateAppointmentStatus moves a live appointment to status. Cancelled
// appointments are terminal and yield ErrStaleState.
func (s *GormStore) UpdateAppointmentStatus(ctx context.Context, id uint, status models.AppointmentStatus, change models.StatusChange) (models.Appointment, error) {
	updates := map[string]any{"status": status}
	if status == models.StatusCancelled {
		at := change.At
		updates["cancelled_at"] = &at
		updates["cancellation_reason"] = change.Reason
		updates["slot_hold"] = nil
	}

	var out models.Appointment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Appointment{}).
			Where("id = ? AND status <> ?", id, models.StatusCancelled).
			Updates(updates)
		if res.Error != nil {
			return translate(res.Error)
		}
		if res.RowsAffected == 0 {
			return missingOrStale(tx, id)
		}
		return translate(tx.First(&out, id).Error)
	})
	if err != nil {
		return models.Appointment{}, err
	}
	return out, nil
}

// RescheduleIfSlotFree moves a live appointment to (date, clock). The collision
// check ignores the appointment itself.
func (s *GormStore) RescheduleIfSlotFree(ctx context.Context, id uint, date, clock string) (models.Appointment, error) {
	var out models.Appointment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.Appointment
		if err := tx.First(&current, id).Error; err != nil {
			return translate(err)
		}
		if current.Status == models.StatusCancelled {
			return ErrStaleState
		}

		taken, err := slotTaken(tx, current.ClinicID, date, clock, id)
		if err != nil {
			return err
		}
		if taken {
			return ErrSlotTaken
		}

		res := tx.Model(&models.Appointment{}).
			Where("id = ? AND status <> ?", id, models.StatusCancelled).
			Updates(map[string]any{"appointment_date": date, "appointment_time": clock})
		if res.Error != nil {
			return slotConflict(translate(res.Error))
		}
		if res.RowsAffected == 0 {
			return ErrStaleState
		}
		return translate(tx.First(&out, id).Error)
	})
	if err != nil {
		return models.Appointment{}, err
	}
	return out, nil
}

// DeleteAppointment hard-deletes an appointment.
func (s *GormStore) DeleteAppointment(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&models.Appointment{}, id)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) ListAppointmentsForUser(ctx context.Context, userID string) ([]models.Appointment, error) {
	var appts []models.Appointment
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("appointment_date DESC, appointment_time DESC").
		Find(&appts).Error
	if err != nil {
		return nil, translate(err)
	}
	return appts, nil
}

func (s *GormStore) ListAppointmentsForClinic(ctx context.Context, clinicID uint, filter AppointmentFilter) ([]models.Appointment, error) {
	query := s.db.WithContext(ctx).Where("clinic_id = ?", clinicID)
	if filter.Date != "" {
		query = query.Where("appointment_date = ?", filter.Date)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var appts []models.Appointment
	if err := query.Order("appointment_date ASC, appointment_time ASC").Find(&appts).Error; err != nil {
		return nil, translate(err)
	}
	return appts, nil
}

func (s *GormStore) ListClinics(ctx context.Context, filter ClinicFilter) ([]models.Clinic, error) {
	query := s.db.WithContext(ctx).Model(&models.Clinic{})
	if q := strings.TrimSpace(filter.Query); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		query = query.Where("LOWER(name) LIKE ? OR LOWER(address) LIKE ?", like, like)
	}
	if filter.City != "" {
		query = query.Where("LOWER(city) = ?", strings.ToLower(filter.City))
	}
	if filter.Status != "" {
		query = query.Where("status IN ?", filter.Status.StoredValues())
	}

	var clinics []models.Clinic
	if err := query.Order("name ASC").Find(&clinics).Error; err != nil {
		return nil, translate(err)
	}
	return clinics, nil
}

func (s *GormStore) CreateClinic(ctx context.Context, clinic *models.Clinic) error {
	return translate(s.db.WithContext(ctx).Create(clinic).Error)
}

// UpdateClinic saves the clinic's own columns. Hours are changed with UpsertClinicHours.
func (s *GormStore) UpdateClinic(ctx context.Context, clinic *models.Clinic) error {
	res := s.db.WithContext(ctx).Omit("Hours").Save(clinic)
	if res.Error != nil {
		return translate(res.Error)
	}
	return nil
}

// UpsertClinicHours replaces the weekly hours of a clinic.
func (s *GormStore) UpsertClinicHours(ctx context.Context, clinicID uint, hours []models.ClinicHours) ([]models.ClinicHours, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Clinic{}).Where("id = ?", clinicID).Count(&count).Error; err != nil {
			return translate(err)
		}
		if count == 0 {
			return ErrNotFound
		}
		if err := tx.Where("clinic_id = ?", clinicID).Delete(&models.ClinicHours{}).Error; err != nil {
			return translate(err)
		}
		for i := range hours {
			hours[i].ID = 0
			hours[i].ClinicID = clinicID
		}
		if len(hours) == 0 {
			return nil
		}
		return translate(tx.Create(&hours).Error)
	})
	if err != nil {
		return nil, err
	}
	return hours, nil
}

func slotTaken(tx *gorm.DB, clinicID uint, date, clock string, exclude uint) (bool, error) {
	query := tx.Model(&models.Appointment{}).
		Where("clinic_id = ? AND appointment_date = ? AND appointment_time = ? AND status <> ?",
			clinicID, date, clock, models.StatusCancelled)
	if exclude != 0 {
		query = query.Where("id <> ?", exclude)
	}

	var n int64
	if err := query.Count(&n).Error; err != nil {
		return false, fmt.Errorf("check slot: %w", err)
	}
	return n > 0, nil
}

func missingOrStale(tx *gorm.DB, id uint) error {
	var n int64
	if err := tx.Model(&models.Appointment{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return translate(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrStaleState
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case isUniqueViolation(err):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	default:
		return err
	}
}

// slotConflict reports a unique violation on the appointment table as a taken slot.
func slotConflict(err error) error {
	if errors.Is(err, ErrDuplicate) {
		return ErrSlotTaken
	}
	return err
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique constraint")
}
