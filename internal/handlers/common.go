package handlers

import (
	"context"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"clinic-finder-server/internal/booking"
	"clinic-finder-server/internal/models"
	"clinic-finder-server/internal/storage"
	"clinic-finder-server/internal/utils"
)

// parseUintParam reads a numeric path parameter, answering 400 when it is not one.
func parseUintParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		utils.BadRequest(c, "Invalid "+name+" format")
		return 0, false
	}
	return uint(id), true
}

// canManageClinic reports whether p administers clinicID: admins manage every
// clinic, active managers only the one they are bound to. The manager's role
// is read from the database so a deactivation takes effect before the
// access token expires.
func canManageClinic(ctx context.Context, db *gorm.DB, p booking.Principal, clinicID uint) (bool, error) {
	if p.IsAdmin() {
		return true, nil
	}
	if p.Role != models.RoleClinicManager {
		return false, nil
	}
	var count int64
	err := db.WithContext(ctx).Model(&models.ClinicManager{}).
		Joins("JOIN users ON users.id = clinic_managers.user_id").
		Where("clinic_managers.user_id = ? AND clinic_managers.clinic_id = ? AND users.role = ?",
			p.UserID, clinicID, models.RoleClinicManager).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// storeError writes the response for an error from the storage package.
func storeError(c *gin.Context, what string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		utils.NotFound(c, what+" not found")
	case errors.Is(err, storage.ErrDuplicate):
		utils.Conflict(c, what+" already exists")
	default:
		_ = c.Error(err)
		utils.InternalServerError(c, "Something went wrong, please try again")
	}
}
