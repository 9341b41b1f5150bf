package models

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// ClinicStatus is the canonical clinic status
type ClinicStatus string

const (
	ClinicActive   ClinicStatus = "active"
	ClinicInactive ClinicStatus = "inactive"
)

// NormalizeClinicStatus maps legacy open/closed values onto active/inactive.
func NormalizeClinicStatus(raw string) (ClinicStatus, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "active", "open":
		return ClinicActive, nil
	case "inactive", "closed":
		return ClinicInactive, nil
	}
	return "", fmt.Errorf("unknown clinic status %q", raw)
}

// StoredValues lists every raw column value that normalizes to s.
func (s ClinicStatus) StoredValues() []string {
	switch s {
	case ClinicActive:
		return []string{"active", "open"}
	case ClinicInactive:
		return []string{"inactive", "closed"}
	}
	return []string{string(s)}
}

// Clinic represents a clinic listed in the finder
type Clinic struct {
	NumericModel
	Name      string        `gorm:"size:255;not null" json:"name"`
	Address   string        `gorm:"size:255" json:"address"`
	City      string        `gorm:"size:100;index" json:"city"`
	Latitude  float64       `json:"latitude"`
	Longitude float64       `json:"longitude"`
	Phone     string        `gorm:"size:50" json:"phone,omitempty"`
	Email     string        `gorm:"size:255" json:"email,omitempty"`
	Website   string        `gorm:"size:255" json:"website,omitempty"`
	Status    ClinicStatus  `gorm:"size:20;default:'active'" json:"status"`
	Hours     []ClinicHours `gorm:"foreignKey:ClinicID;constraint:OnDelete:CASCADE" json:"hours,omitempty"`
}

// IsActive reports whether the clinic accepts bookings.
func (c *Clinic) IsActive() bool {
	return c.Status == ClinicActive
}

// BeforeSave stores only canonical status values.
func (c *Clinic) BeforeSave(tx *gorm.DB) error {
	if c.Status == "" {
		c.Status = ClinicActive
		return nil
	}
	status, err := NormalizeClinicStatus(string(c.Status))
	if err != nil {
		return err
	}
	c.Status = status
	return nil
}

// AfterFind normalizes rows written before statuses were canonical.
func (c *Clinic) AfterFind(tx *gorm.DB) error {
	if status, err := NormalizeClinicStatus(string(c.Status)); err == nil {
		c.Status = status
	}
	return nil
}

// ClinicHours is the opening window of a clinic on one weekday.
// DayOfWeek follows time.Weekday, 0 is Sunday.
type ClinicHours struct {
	ID          uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	ClinicID    uint   `gorm:"not null;uniqueIndex:idx_clinic_day,priority:1" json:"clinicId"`
	DayOfWeek   int    `gorm:"not null;uniqueIndex:idx_clinic_day,priority:2" json:"dayOfWeek"`
	OpeningTime string `gorm:"type:varchar(5);not null" json:"openingTime"`
	ClosingTime string `gorm:"type:varchar(5);not null" json:"closingTime"`
}

func (ClinicHours) TableName() string {
	return "clinic_hours"
}
