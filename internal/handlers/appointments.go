package handlers

import (
	"encoding/json"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"clinic-finder-server/internal/booking"
	"clinic-finder-server/internal/logging"
	"clinic-finder-server/internal/middleware"
	"clinic-finder-server/internal/models"
	"clinic-finder-server/internal/storage"
	"clinic-finder-server/internal/utils"
)

// AppointmentHandler handles appointment related requests.
type AppointmentHandler struct {
	DB      *gorm.DB
	Store   *storage.GormStore
	Booking *booking.Service
	Logger  *logging.Logger
}

// NewAppointmentHandler creates a new AppointmentHandler.
func NewAppointmentHandler(db *gorm.DB, store *storage.GormStore, svc *booking.Service, logger *logging.Logger) *AppointmentHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AppointmentHandler{DB: db, Store: store, Booking: svc, Logger: logger.With("component", "appointments")}
}

// CreateAppointmentRequest represents the booking form. clinicId is accepted
// as a JSON number or string; the booking service validates every field.
type CreateAppointmentRequest struct {
	ClinicID    json.RawMessage `json:"clinicId"`
	Service     string          `json:"service"`
	Date        string          `json:"appointmentDate"`
	Time        string          `json:"appointmentTime"`
	FirstName   string          `json:"patientFirstName"`
	LastName    string          `json:"patientLastName"`
	Email       string          `json:"patientEmail"`
	Phone       string          `json:"patientPhone"`
	DateOfBirth string          `json:"patientDob"`
	Reason      string          `json:"reason"`
	Insurance   string          `json:"insurance"`
}

func (r CreateAppointmentRequest) toBooking() booking.BookingRequest {
	clinicID := strings.TrimSpace(string(r.ClinicID))
	if clinicID == "null" {
		clinicID = ""
	}
	return booking.BookingRequest{
		ClinicID:    strings.Trim(clinicID, `"`),
		Service:     r.Service,
		Date:        r.Date,
		Time:        r.Time,
		FirstName:   r.FirstName,
		LastName:    r.LastName,
		Email:       r.Email,
		Phone:       r.Phone,
		DateOfBirth: r.DateOfBirth,
		Reason:      r.Reason,
		Insurance:   r.Insurance,
	}
}

// CreateAppointment books a slot for the signed-in user. Patient details the
// form leaves blank are taken from the account.
func (h *AppointmentHandler) CreateAppointment(c *gin.Context) {
	var req CreateAppointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "Invalid request payload")
		return
	}

	p := middleware.GetPrincipal(c)
	bookingReq := req.toBooking()
	if !p.IsGuest() {
		h.fillFromAccount(c, p.UserID, &bookingReq)
	}

	receipt, err := h.Booking.Book(c.Request.Context(), p, bookingReq, false)
	if err != nil {
		utils.DomainError(c, err)
		return
	}
	utils.Created(c, "Appointment booked successfully", receipt.Appointment)
}

// CreateGuestAppointment books a slot without an account. A bearer token, when
// present, still links the appointment to its user.
func (h *AppointmentHandler) CreateGuestAppointment(c *gin.Context) {
	var req CreateAppointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "Invalid request payload")
		return
	}

	receipt, err := h.Booking.Book(c.Request.Context(), middleware.GetPrincipal(c), req.toBooking(), true)
	if err != nil {
		utils.DomainError(c, err)
		return
	}
	utils.Created(c, "Appointment booked successfully", receipt.Appointment)
}

// GetMyAppointments handles fetching the signed-in user's appointments.
func (h *AppointmentHandler) GetMyAppointments(c *gin.Context) {
	userID, exists := middleware.GetUserIDFromContext(c)
	if !exists {
		utils.Unauthorized(c, "User not authenticated")
		return
	}

	appts, err := h.Store.ListAppointmentsForUser(c.Request.Context(), userID)
	if err != nil {
		storeError(c, "Appointment", err)
		return
	}
	if appts == nil {
		appts = []models.Appointment{}
	}
	utils.Success(c, "Appointments fetched successfully", appts)
}

// GetAppointmentByID handles fetching a single appointment.
// Visible to its owner, the clinic's manager and admins.
func (h *AppointmentHandler) GetAppointmentByID(c *gin.Context) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	appt, err := h.Store.FindAppointmentByID(ctx, id)
	if err != nil {
		storeError(c, "Appointment", err)
		return
	}

	p := middleware.GetPrincipal(c)
	if !appt.OwnedBy(p.UserID) {
		allowed, err := canManageClinic(ctx, h.DB, p, appt.ClinicID)
		if err != nil {
			storeError(c, "Clinic manager", err)
			return
		}
		if !allowed {
			utils.Forbidden(c, "You are not authorized to view this appointment")
			return
		}
	}

	utils.Success(c, "Appointment fetched successfully", appt)
}

// CancelAppointmentRequest represents the optional cancellation reason.
type CancelAppointmentRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

// CancelAppointment handles cancellation by the owner or an admin.
func (h *AppointmentHandler) CancelAppointment(c *gin.Context) {
	h.cancel(c, "Appointment cancelled successfully")
}

// AdminCancelAppointment is CancelAppointment mounted under the admin group.
func (h *AppointmentHandler) AdminCancelAppointment(c *gin.Context) {
	h.cancel(c, "Appointment cancelled by admin")
}

func (h *AppointmentHandler) cancel(c *gin.Context, message string) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	var req CancelAppointmentRequest
	if c.Request.ContentLength != 0 && !utils.BindAndValidate(c, &req) {
		return
	}

	receipt, err := h.Booking.Cancel(c.Request.Context(), middleware.GetPrincipal(c), id, req.Reason)
	if err != nil {
		utils.DomainError(c, err)
		return
	}
	utils.Success(c, message, receipt.Appointment)
}

// RescheduleAppointmentRequest represents the request body for rescheduling an appointment.
type RescheduleAppointmentRequest struct {
	Date string `json:"appointmentDate" binding:"required"`
	Time string `json:"appointmentTime" binding:"required"`
}

// RescheduleAppointment moves an appointment to another free slot of its clinic.
func (h *AppointmentHandler) RescheduleAppointment(c *gin.Context) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	var req RescheduleAppointmentRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	receipt, err := h.Booking.Reschedule(c.Request.Context(), middleware.GetPrincipal(c), id, req.Date, req.Time)
	if err != nil {
		utils.DomainError(c, err)
		return
	}
	utils.Success(c, "Appointment rescheduled successfully", receipt.Appointment)
}

// AdminDeleteAppointment hard-deletes an appointment (admin).
func (h *AppointmentHandler) AdminDeleteAppointment(c *gin.Context) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	if err := h.Booking.AdminDelete(c.Request.Context(), middleware.GetPrincipal(c), id); err != nil {
		utils.DomainError(c, err)
		return
	}
	utils.Success(c, "Appointment deleted successfully", nil)
}

func (h *AppointmentHandler) fillFromAccount(c *gin.Context, userID string, req *booking.BookingRequest) {
	if req.FirstName != "" && req.LastName != "" && req.Email != "" {
		return
	}
	var user models.User
	if err := h.DB.WithContext(c.Request.Context()).First(&user, "id = ?", userID).Error; err != nil {
		h.Logger.Warn("account lookup for booking failed", "user_id", userID, "error", err)
		return
	}
	if req.FirstName == "" {
		req.FirstName = user.FirstName
	}
	if req.LastName == "" {
		req.LastName = user.LastName
	}
	if req.Email == "" {
		req.Email = user.Email
	}
	if req.Phone == "" {
		req.Phone = user.PhoneNumber
	}
	if req.DateOfBirth == "" {
		req.DateOfBirth = user.DateOfBirth
	}
}
