package models

import (
	"errors"
	"fmt"
)

// ErrMissingProfile is returned when a role needs an auxiliary row that does not exist.
var ErrMissingProfile = errors.New("role profile missing")

// Doctor holds the doctor-specific payload for users with RoleDoctor.
type Doctor struct {
	UserID    string `gorm:"primaryKey;size:36" json:"userId"`
	ClinicID  uint   `gorm:"not null;index" json:"clinicId"`
	Specialty string `gorm:"size:100" json:"specialty"`
	Bio       string `gorm:"type:text" json:"bio,omitempty"`
}

// ClinicManager binds a manager account to the clinic it runs.
type ClinicManager struct {
	UserID   string `gorm:"primaryKey;size:36" json:"userId"`
	ClinicID uint   `gorm:"not null;index" json:"clinicId"`
}

// Profile is the role-specific view of a user. Exactly one variant exists per role.
type Profile interface {
	Role() Role
	isProfile()
}

type PatientProfile struct{}

type DoctorProfile struct {
	ClinicID  uint   `json:"clinicId"`
	Specialty string `json:"specialty"`
}

type ManagerProfile struct {
	ClinicID uint `json:"clinicId"`
	Active   bool `json:"active"`
}

type AdminProfile struct{}

func (PatientProfile) Role() Role { return RoleUser }
func (DoctorProfile) Role() Role  { return RoleDoctor }
func (AdminProfile) Role() Role   { return RoleAdmin }

func (p ManagerProfile) Role() Role {
	if p.Active {
		return RoleClinicManager
	}
	return RoleClinicManagerInactive
}

func (PatientProfile) isProfile() {}
func (DoctorProfile) isProfile()  {}
func (ManagerProfile) isProfile() {}
func (AdminProfile) isProfile()   {}

// Profile builds the variant for u's role. The doctor and manager rows are
// only consulted for their roles and may be nil otherwise.
func (u *User) Profile(doctor *Doctor, manager *ClinicManager) (Profile, error) {
	switch u.Role {
	case RoleUser:
		return PatientProfile{}, nil
	case RoleAdmin:
		return AdminProfile{}, nil
	case RoleDoctor:
		if doctor == nil {
			return nil, fmt.Errorf("%w: doctor %s", ErrMissingProfile, u.ID)
		}
		return DoctorProfile{ClinicID: doctor.ClinicID, Specialty: doctor.Specialty}, nil
	case RoleClinicManager, RoleClinicManagerInactive:
		if manager == nil {
			return nil, fmt.Errorf("%w: manager %s", ErrMissingProfile, u.ID)
		}
		return ManagerProfile{ClinicID: manager.ClinicID, Active: u.Role == RoleClinicManager}, nil
	default:
		return nil, fmt.Errorf("unknown role %q", u.Role)
	}
}
