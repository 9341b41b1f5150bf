package handlers

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"clinic-finder-server/internal/logging"
	"clinic-finder-server/internal/middleware"
	"clinic-finder-server/internal/models"
	"clinic-finder-server/internal/utils"
)

// UserHandler handles user-related requests (typically admin operations).
type UserHandler struct {
	DB     *gorm.DB
	Logger *logging.Logger
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(db *gorm.DB, logger *logging.Logger) *UserHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &UserHandler{DB: db, Logger: logger.With("component", "users")}
}

// CreateUserRequest represents the request body for creating a user by an admin.
// Doctors and managers are attached to a clinic.
type CreateUserRequest struct {
	FirstName string `json:"firstName" binding:"required"`
	LastName  string `json:"lastName" binding:"required"`
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required,min=8"`
	Role      string `json:"role" binding:"required,oneof=user doctor admin clinic_manager clinic_manager_inactive"`
	ClinicID  uint   `json:"clinicId"`
	Specialty string `json:"specialty"`
	Bio       string `json:"bio"`
}

// CreateUser handles creating a new user (admin).
func (h *UserHandler) CreateUser(c *gin.Context) {
	var req CreateUserRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	role := models.Role(req.Role)
	needsClinic := role == models.RoleDoctor || role == models.RoleClinicManager || role == models.RoleClinicManagerInactive
	if needsClinic && req.ClinicID == 0 {
		utils.BadRequest(c, "clinicId is required for role "+req.Role)
		return
	}

	user := models.User{
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Email:     strings.ToLower(strings.TrimSpace(req.Email)),
		Role:      role,
	}
	if err := user.SetPassword(req.Password); err != nil {
		utils.InternalServerError(c, "Failed to hash password")
		return
	}

	err := h.DB.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if needsClinic {
			if err := tx.Select("id").First(&models.Clinic{}, req.ClinicID).Error; err != nil {
				return err
			}
		}
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		switch role {
		case models.RoleDoctor:
			return tx.Create(&models.Doctor{
				UserID:    user.ID,
				ClinicID:  req.ClinicID,
				Specialty: strings.TrimSpace(req.Specialty),
				Bio:       strings.TrimSpace(req.Bio),
			}).Error
		case models.RoleClinicManager, models.RoleClinicManagerInactive:
			return tx.Create(&models.ClinicManager{UserID: user.ID, ClinicID: req.ClinicID}).Error
		}
		return nil
	})
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		utils.NotFound(c, "Clinic not found")
		return
	case errors.Is(err, gorm.ErrDuplicatedKey):
		utils.Conflict(c, "User with this email already exists")
		return
	case err != nil:
		h.dbError(c, "create user", err)
		return
	}

	adminID, _ := middleware.GetUserIDFromContext(c)
	h.Logger.Info("user created by admin", "user_id", user.ID, "role", user.Role, "admin_id", adminID)

	sanitized := user.Sanitize()
	sanitized.Profile = loadProfile(h.DB, &user)
	utils.Created(c, "User created successfully", sanitized)
}

// GetUsers handles fetching all users (admin). ?role= narrows the list.
func (h *UserHandler) GetUsers(c *gin.Context) {
	query := h.DB.Order("created_at DESC")
	if raw := c.Query("role"); raw != "" {
		role := models.Role(strings.ToLower(raw))
		if !role.Valid() {
			utils.BadRequest(c, "Unknown role "+raw)
			return
		}
		query = query.Where("role = ?", role)
	}

	var users []models.User
	if err := query.Find(&users).Error; err != nil {
		h.dbError(c, "list users", err)
		return
	}

	sanitizedUsers := make([]models.UserSanitized, len(users))
	for i, u := range users {
		sanitizedUsers[i] = u.Sanitize()
	}

	utils.Success(c, "Users fetched successfully", sanitizedUsers)
}

// GetUserByID handles fetching a single user by ID (admin).
func (h *UserHandler) GetUserByID(c *gin.Context) {
	user, ok := h.findUser(c)
	if !ok {
		return
	}
	sanitized := user.Sanitize()
	sanitized.Profile = loadProfile(h.DB, &user)
	utils.Success(c, "User fetched successfully", sanitized)
}

// UpdateUserRequest represents the request body for updating a user by an admin.
// Role changes between profile-bearing roles go through the manager endpoints.
type UpdateUserRequest struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Email       string `json:"email" binding:"omitempty,email"`
	PhoneNumber string `json:"phoneNumber"`
	Role        string `json:"role" binding:"omitempty,oneof=user admin"`
}

// UpdateUser handles updating a user by ID (admin).
func (h *UserHandler) UpdateUser(c *gin.Context) {
	var req UpdateUserRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	user, ok := h.findUser(c)
	if !ok {
		return
	}

	if req.FirstName != "" {
		user.FirstName = strings.TrimSpace(req.FirstName)
	}
	if req.LastName != "" {
		user.LastName = strings.TrimSpace(req.LastName)
	}
	if req.PhoneNumber != "" {
		user.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	}
	if email := strings.ToLower(strings.TrimSpace(req.Email)); email != "" && email != user.Email {
		var existingUser models.User
		if err := h.DB.Where("email = ? AND id <> ?", email, user.ID).First(&existingUser).Error; err == nil {
			utils.Conflict(c, "New email is already in use")
			return
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			h.dbError(c, "check email", err)
			return
		}
		user.Email = email
	}
	if req.Role != "" {
		if user.Role != models.RoleUser && user.Role != models.RoleAdmin {
			utils.BadRequest(c, "Role of a "+string(user.Role)+" cannot be changed here")
			return
		}
		user.Role = models.Role(req.Role)
	}

	if err := h.DB.Save(&user).Error; err != nil {
		h.dbError(c, "update user", err)
		return
	}

	utils.Success(c, "User updated successfully", user.Sanitize())
}

// DeleteUser removes a user with its role rows and refresh tokens.
// Appointments they booked are kept.
func (h *UserHandler) DeleteUser(c *gin.Context) {
	user, ok := h.findUser(c)
	if !ok {
		return
	}
	if adminID, _ := middleware.GetUserIDFromContext(c); adminID == user.ID {
		utils.BadRequest(c, "Admins cannot delete their own account")
		return
	}

	err := h.DB.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{&models.Doctor{}, &models.ClinicManager{}, &models.RefreshToken{}} {
			if err := tx.Where("user_id = ?", user.ID).Delete(model).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&models.User{}, "id = ?", user.ID).Error
	})
	if err != nil {
		h.dbError(c, "delete user", err)
		return
	}

	h.Logger.Warn("user deleted", "user_id", user.ID)
	utils.Success(c, "User deleted successfully", nil)
}

// ActivateManager approves a pending clinic manager.
func (h *UserHandler) ActivateManager(c *gin.Context) {
	h.setManagerRole(c, models.RoleClinicManager, "Manager activated successfully")
}

// DeactivateManager revokes a clinic manager's access without deleting the account.
func (h *UserHandler) DeactivateManager(c *gin.Context) {
	h.setManagerRole(c, models.RoleClinicManagerInactive, "Manager deactivated successfully")
}

func (h *UserHandler) setManagerRole(c *gin.Context, role models.Role, message string) {
	user, ok := h.findUser(c)
	if !ok {
		return
	}
	if user.Role != models.RoleClinicManager && user.Role != models.RoleClinicManagerInactive {
		utils.BadRequest(c, "User is not a clinic manager")
		return
	}

	var manager models.ClinicManager
	if err := h.DB.First(&manager, "user_id = ?", user.ID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.UnprocessableEntity(c, "Manager has no clinic assigned")
		} else {
			h.dbError(c, "lookup manager", err)
		}
		return
	}

	if user.Role != role {
		if err := h.DB.Model(&user).Update("role", role).Error; err != nil {
			h.dbError(c, "update manager role", err)
			return
		}
		user.Role = role
		h.Logger.Info("manager role changed", "user_id", user.ID, "clinic_id", manager.ClinicID, "role", role)
	}

	sanitized := user.Sanitize()
	sanitized.Profile = models.ManagerProfile{ClinicID: manager.ClinicID, Active: role == models.RoleClinicManager}
	utils.Success(c, message, sanitized)
}

// ClinicDoctor is the public view of a doctor working at a clinic.
type ClinicDoctor struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Specialty string `json:"specialty"`
	Bio       string `json:"bio,omitempty"`
}

// ListClinicDoctors handles fetching the doctors of a clinic. Public.
func (h *UserHandler) ListClinicDoctors(c *gin.Context) {
	clinicID, ok := parseUintParam(c, "id")
	if !ok {
		return
	}

	var doctors []ClinicDoctor
	err := h.DB.Table("doctors").
		Select("users.id, users.first_name, users.last_name, doctors.specialty, doctors.bio").
		Joins("JOIN users ON users.id = doctors.user_id").
		Where("doctors.clinic_id = ? AND users.role = ?", clinicID, models.RoleDoctor).
		Order("users.last_name ASC, users.first_name ASC").
		Scan(&doctors).Error
	if err != nil {
		h.dbError(c, "list doctors", err)
		return
	}
	if doctors == nil {
		doctors = []ClinicDoctor{}
	}

	utils.Success(c, "Doctors fetched successfully", doctors)
}

func (h *UserHandler) findUser(c *gin.Context) (models.User, bool) {
	var user models.User
	if err := h.DB.First(&user, "id = ?", c.Param("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.NotFound(c, "User not found")
		} else {
			h.dbError(c, "lookup user", err)
		}
		return models.User{}, false
	}
	return user, true
}

func (h *UserHandler) dbError(c *gin.Context, op string, err error) {
	h.Logger.Error("user handler failed", "op", op, "error", err)
	_ = c.Error(err)
	utils.InternalServerError(c, "Something went wrong, please try again")
}
