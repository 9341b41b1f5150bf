package models

import (
	"fmt"
	"strings"
	"time"
)

// AppointmentStatus represents the status of an appointment
type AppointmentStatus string

const (
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusPending   AppointmentStatus = "pending"
	StatusCancelled AppointmentStatus = "cancelled"
)

// ParseAppointmentStatus accepts only the canonical statuses.
func ParseAppointmentStatus(raw string) (AppointmentStatus, error) {
	switch s := AppointmentStatus(strings.ToLower(strings.TrimSpace(raw))); s {
	case StatusConfirmed, StatusPending, StatusCancelled:
		return s, nil
	}
	return "", fmt.Errorf("unknown appointment status %q", raw)
}

// Appointment is a booking of one clinic slot on one date.
//
// SlotHold is true while the appointment is live and NULL once cancelled, so the
// unique index on (clinic, date, time, hold) admits any number of cancelled rows
// but only one live booking per slot.
type Appointment struct {
	NumericModel
	ClinicID           uint              `gorm:"not null;uniqueIndex:idx_appointment_slot,priority:1" json:"clinicId"`
	UserID             *string           `gorm:"size:36;index" json:"userId,omitempty"`
	PatientFirstName   string            `gorm:"size:100;not null" json:"patientFirstName"`
	PatientLastName    string            `gorm:"size:100;not null" json:"patientLastName"`
	PatientEmail       string            `gorm:"size:255;not null" json:"patientEmail"`
	PatientPhone       string            `gorm:"size:50" json:"patientPhone,omitempty"`
	PatientDOB         string            `gorm:"type:varchar(10)" json:"patientDob,omitempty"`
	Service            string            `gorm:"size:255;not null" json:"service"`
	AppointmentDate    string            `gorm:"type:varchar(10);not null;uniqueIndex:idx_appointment_slot,priority:2" json:"appointmentDate"`
	AppointmentTime    string            `gorm:"type:varchar(5);not null;uniqueIndex:idx_appointment_slot,priority:3" json:"appointmentTime"`
	Status             AppointmentStatus `gorm:"size:20;not null;default:'confirmed'" json:"status"`
	Reason             string            `gorm:"type:text" json:"reason,omitempty"`
	Insurance          string            `gorm:"size:255" json:"insurance,omitempty"`
	CancelledAt        *time.Time        `json:"cancelledAt,omitempty"`
	CancellationReason string            `gorm:"size:500" json:"cancellationReason,omitempty"`
	SlotHold           *bool             `gorm:"uniqueIndex:idx_appointment_slot,priority:4" json:"-"`
}

// IsGuest reports whether the appointment was booked without an account.
func (a *Appointment) IsGuest() bool {
	return a.UserID == nil
}

// OwnedBy reports whether userID booked the appointment.
func (a *Appointment) OwnedBy(userID string) bool {
	return userID != "" && a.UserID != nil && *a.UserID == userID
}

// StatusChange carries the metadata recorded with a status transition.
type StatusChange struct {
	At     time.Time
	Reason string
}
