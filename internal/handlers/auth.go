package handlers

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"clinic-finder-server/internal/config"
	"clinic-finder-server/internal/logging"
	"clinic-finder-server/internal/middleware"
	"clinic-finder-server/internal/models"
	"clinic-finder-server/internal/utils"
)

const refreshCookie = "refresh_token"

// AuthHandler handles authentication-related requests.
type AuthHandler struct {
	DB     *gorm.DB
	Cfg    *config.Config
	Logger *logging.Logger
	now    func() time.Time
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(db *gorm.DB, cfg *config.Config, logger *logging.Logger) *AuthHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AuthHandler{DB: db, Cfg: cfg, Logger: logger.With("component", "auth"), now: time.Now}
}

// RegisterRequest represents the request body for user registration.
// Managers sign up against a clinic and stay inactive until an admin approves them.
type RegisterRequest struct {
	FirstName   string `json:"firstName" binding:"required"`
	LastName    string `json:"lastName" binding:"required"`
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required,min=8"`
	Role        string `json:"role" binding:"omitempty,oneof=user clinic_manager"`
	ClinicID    uint   `json:"clinicId"`
	PhoneNumber string `json:"phoneNumber"`
	DateOfBirth string `json:"dateOfBirth"`
}

// Register handles user registration.
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	var existingUser models.User
	if err := h.DB.Where("email = ?", email).First(&existingUser).Error; err == nil {
		utils.Conflict(c, "User with this email already exists")
		return
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		h.dbError(c, "lookup user", err)
		return
	}

	user := models.User{
		FirstName:   strings.TrimSpace(req.FirstName),
		LastName:    strings.TrimSpace(req.LastName),
		Email:       email,
		Role:        models.RoleUser,
		PhoneNumber: strings.TrimSpace(req.PhoneNumber),
		DateOfBirth: strings.TrimSpace(req.DateOfBirth),
	}
	wantsManager := req.Role == string(models.RoleClinicManager)
	if wantsManager {
		if req.ClinicID == 0 {
			utils.BadRequest(c, "clinicId is required for clinic managers")
			return
		}
		user.Role = models.RoleClinicManagerInactive
	}
	if err := user.SetPassword(req.Password); err != nil {
		utils.InternalServerError(c, "Failed to hash password")
		return
	}

	err := h.DB.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if wantsManager {
			if err := tx.Select("id").First(&models.Clinic{}, req.ClinicID).Error; err != nil {
				return err
			}
		}
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		if wantsManager {
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

	h.Logger.Info("user registered", "user_id", user.ID, "role", user.Role)
	utils.Created(c, "User registered successfully", user.Sanitize())
}

// LoginRequest represents the request body for user login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse represents the response body for successful login.
type LoginResponse struct {
	AccessToken  string               `json:"accessToken"`
	RefreshToken string               `json:"refreshToken"`
	User         models.UserSanitized `json:"user"`
}

// Login handles user login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	var user models.User
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if err := h.DB.Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Unauthorized(c, "Invalid email or password")
		} else {
			h.dbError(c, "lookup user", err)
		}
		return
	}

	if !user.CheckPassword(req.Password) {
		utils.Unauthorized(c, "Invalid email or password")
		return
	}

	accessToken, refreshToken, err := h.issueTokens(&user)
	if err != nil {
		h.dbError(c, "issue tokens", err)
		return
	}
	h.setRefreshCookie(c, refreshToken)

	sanitized := user.Sanitize()
	sanitized.Profile = loadProfile(h.DB, &user)
	utils.Success(c, "Login successful", LoginResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         sanitized,
	})
}

// RefreshTokenRequest represents the request body for token refresh.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// RefreshTokenResponse represents the response body for successful token refresh.
type RefreshTokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// RefreshToken rotates a refresh token. The cookie wins over the request body.
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	presented, err := c.Cookie(refreshCookie)
	if err != nil || presented == "" {
		var req RefreshTokenRequest
		if !utils.BindAndValidate(c, &req) {
			return
		}
		presented = req.RefreshToken
	}

	claims, err := utils.ValidateToken(presented, h.Cfg.JWTRefreshSecret)
	if err != nil {
		utils.Unauthorized(c, "Invalid refresh token")
		return
	}

	var stored models.RefreshToken
	if err := h.DB.Where("token = ? AND user_id = ?", presented, claims.UserID).First(&stored).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Unauthorized(c, "Refresh token not found, expired, or revoked")
		} else {
			h.dbError(c, "lookup refresh token", err)
		}
		return
	}
	if !stored.Usable(h.now()) {
		utils.Unauthorized(c, "Refresh token not found, expired, or revoked")
		return
	}

	var user models.User
	if err := h.DB.First(&user, "id = ?", claims.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Unauthorized(c, "User no longer exists")
		} else {
			h.dbError(c, "lookup user", err)
		}
		return
	}

	// Rotation: the presented token is spent even if issuing the new pair fails.
	if err := h.DB.Model(&stored).Update("is_revoked", true).Error; err != nil {
		h.dbError(c, "revoke refresh token", err)
		return
	}
	accessToken, refreshToken, err := h.issueTokens(&user)
	if err != nil {
		h.dbError(c, "issue tokens", err)
		return
	}
	h.setRefreshCookie(c, refreshToken)

	utils.Success(c, "Access token refreshed successfully", RefreshTokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	})
}

// LogoutRequest represents the request body for user logout.
type LogoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Logout revokes the caller's refresh token. Unknown tokens still log out.
func (h *AuthHandler) Logout(c *gin.Context) {
	userID, _ := middleware.GetUserIDFromContext(c)

	var req LogoutRequest
	_ = c.ShouldBindJSON(&req)
	token := req.RefreshToken
	if token == "" {
		token, _ = c.Cookie(refreshCookie)
	}

	if token != "" {
		res := h.DB.Model(&models.RefreshToken{}).
			Where("token = ? AND user_id = ? AND is_revoked = ?", token, userID, false).
			Updates(map[string]any{"is_revoked": true, "expires_at": h.now()})
		if res.Error != nil {
			h.dbError(c, "revoke refresh token", res.Error)
			return
		}
	}

	c.SetCookie(refreshCookie, "", -1, "/", "", h.Cfg.IsProduction(), true)
	utils.Success(c, "Logout successful", nil)
}

// GetProfile handles fetching the currently authenticated user's profile.
func (h *AuthHandler) GetProfile(c *gin.Context) {
	userID, exists := middleware.GetUserIDFromContext(c)
	if !exists {
		utils.Unauthorized(c, "User not authenticated")
		return
	}

	var user models.User
	if err := h.DB.First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.NotFound(c, "User profile not found")
		} else {
			h.dbError(c, "lookup user", err)
		}
		return
	}

	sanitized := user.Sanitize()
	sanitized.Profile = loadProfile(h.DB, &user)
	utils.Success(c, "Profile fetched successfully", sanitized)
}

// UpdateProfileRequest represents the request body for updating user profile.
type UpdateProfileRequest struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	PhoneNumber string `json:"phoneNumber"`
	DateOfBirth string `json:"dateOfBirth"`
	Address     string `json:"address"`
}

// UpdateProfile handles updating the currently authenticated user's profile.
func (h *AuthHandler) UpdateProfile(c *gin.Context) {
	userID, exists := middleware.GetUserIDFromContext(c)
	if !exists {
		utils.Unauthorized(c, "User not authenticated")
		return
	}

	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "Invalid request payload")
		return
	}

	var user models.User
	if err := h.DB.First(&user, "id = ?", userID).Error; err != nil {
		utils.NotFound(c, "User not found")
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
	if req.DateOfBirth != "" {
		if _, err := time.Parse(time.DateOnly, req.DateOfBirth); err != nil {
			utils.BadRequest(c, "dateOfBirth must be YYYY-MM-DD")
			return
		}
		user.DateOfBirth = req.DateOfBirth
	}
	if req.Address != "" {
		user.Address = strings.TrimSpace(req.Address)
	}

	if err := h.DB.Save(&user).Error; err != nil {
		h.dbError(c, "update profile", err)
		return
	}

	utils.Success(c, "Profile updated successfully", user.Sanitize())
}

func (h *AuthHandler) issueTokens(user *models.User) (string, string, error) {
	accessToken, refreshToken, err := utils.GenerateTokens(user, h.Cfg)
	if err != nil {
		return "", "", err
	}
	record := models.RefreshToken{
		UserID:    user.ID,
		Token:     refreshToken,
		ExpiresAt: utils.RefreshExpiry(h.Cfg),
	}
	if err := h.DB.Create(&record).Error; err != nil {
		return "", "", err
	}
	return accessToken, refreshToken, nil
}

func (h *AuthHandler) setRefreshCookie(c *gin.Context, token string) {
	c.SetCookie(refreshCookie, token, h.Cfg.JWTRefreshExpirationHours*60*60, "/", "", h.Cfg.IsProduction(), true)
}

func (h *AuthHandler) dbError(c *gin.Context, op string, err error) {
	h.Logger.Error("auth handler failed", "op", op, "error", err)
	_ = c.Error(err)
	utils.InternalServerError(c, "Something went wrong, please try again")
}

// loadProfile resolves the role payload of user. A missing row is logged by
// callers that care; the response simply omits the profile.
func loadProfile(db *gorm.DB, user *models.User) models.Profile {
	var doctor *models.Doctor
	var manager *models.ClinicManager
	switch user.Role {
	case models.RoleDoctor:
		var d models.Doctor
		if err := db.First(&d, "user_id = ?", user.ID).Error; err == nil {
			doctor = &d
		}
	case models.RoleClinicManager, models.RoleClinicManagerInactive:
		var m models.ClinicManager
		if err := db.First(&m, "user_id = ?", user.ID).Error; err == nil {
			manager = &m
		}
	}
	profile, err := user.Profile(doctor, manager)
	if err != nil {
		return nil
	}
	return profile
}
