package handlers

import (
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"clinic-finder-server/internal/booking"
	"clinic-finder-server/internal/geo"
	"clinic-finder-server/internal/logging"
	"clinic-finder-server/internal/middleware"
	"clinic-finder-server/internal/models"
	"clinic-finder-server/internal/schedule"
	"clinic-finder-server/internal/storage"
	"clinic-finder-server/internal/utils"
)

const (
	defaultRadiusKm = 10.0
	maxRadiusKm     = 500.0
)

// ClinicHandler serves clinic search, details, availability and clinic management.
type ClinicHandler struct {
	DB      *gorm.DB
	Store   *storage.GormStore
	Booking *booking.Service
	Logger  *logging.Logger
}

// NewClinicHandler creates a new ClinicHandler.
func NewClinicHandler(db *gorm.DB, store *storage.GormStore, svc *booking.Service, logger *logging.Logger) *ClinicHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ClinicHandler{DB: db, Store: store, Booking: svc, Logger: logger.With("component", "clinics")}
}

// ListClinics handles searching clinics by ?q=, ?city= and ?status=.
func (h *ClinicHandler) ListClinics(c *gin.Context) {
	filter := storage.ClinicFilter{
		Query: c.Query("q"),
		City:  strings.TrimSpace(c.Query("city")),
	}
	if raw := c.Query("status"); raw != "" {
		status, err := models.NormalizeClinicStatus(raw)
		if err != nil {
			utils.BadRequest(c, err.Error())
			return
		}
		filter.Status = status
	}

	clinics, err := h.Store.ListClinics(c.Request.Context(), filter)
	if err != nil {
		storeError(c, "Clinic", err)
		return
	}
	utils.Success(c, "Clinics fetched successfully", clinics)
}

// NearbyClinic is a clinic with its distance from the search point.
type NearbyClinic struct {
	models.Clinic
	DistanceKm float64 `json:"distanceKm"`
}

// NearbyClinics handles listing active clinics within ?radiusKm= of ?lat=&lng=, nearest first.
func (h *ClinicHandler) NearbyClinics(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	origin := geo.Point{Lat: lat, Lng: lng}
	if errLat != nil || errLng != nil || !origin.Valid() {
		utils.BadRequest(c, "lat and lng must be valid coordinates")
		return
	}

	radius := defaultRadiusKm
	if raw := c.Query("radiusKm"); raw != "" {
		r, err := strconv.ParseFloat(raw, 64)
		if err != nil || r <= 0 || math.IsNaN(r) {
			utils.BadRequest(c, "radiusKm must be a positive number")
			return
		}
		radius = math.Min(r, maxRadiusKm)
	}

	clinics, err := h.Store.ListClinics(c.Request.Context(), storage.ClinicFilter{Status: models.ClinicActive})
	if err != nil {
		storeError(c, "Clinic", err)
		return
	}

	ranked := geo.Within(origin, radius, clinics, func(cl models.Clinic) geo.Point {
		return geo.Point{Lat: cl.Latitude, Lng: cl.Longitude}
	})
	out := make([]NearbyClinic, len(ranked))
	for i, r := range ranked {
		out[i] = NearbyClinic{Clinic: r.Item, DistanceKm: math.Round(r.DistanceKm*100) / 100}
	}
	utils.Success(c, "Clinics fetched successfully", out)
}

// GetClinic handles fetching a clinic with its weekly hours.
func (h *ClinicHandler) GetClinic(c *gin.Context) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	clinic, err := h.Store.FindClinicWithHours(c.Request.Context(), id)
	if err != nil {
		storeError(c, "Clinic", err)
		return
	}
	utils.Success(c, "Clinic fetched successfully", clinic)
}

// GetClinicHours handles fetching the weekly hours of a clinic.
func (h *ClinicHandler) GetClinicHours(c *gin.Context) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := h.Store.FindClinic(ctx, id); err != nil {
		storeError(c, "Clinic", err)
		return
	}
	hours, err := h.Store.FindWeeklyHours(ctx, id)
	if err != nil {
		storeError(c, "Clinic hours", err)
		return
	}
	if hours == nil {
		hours = []models.ClinicHours{}
	}
	utils.Success(c, "Clinic hours fetched successfully", hours)
}

// AvailabilityResponse lists the bookable times of a clinic on one date.
type AvailabilityResponse struct {
	ClinicID uint     `json:"clinicId"`
	Date     string   `json:"date"`
	Slots    []string `json:"slots"`
}

// GetAvailability handles ?date=YYYY-MM-DD availability lookups.
func (h *ClinicHandler) GetAvailability(c *gin.Context) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}
	date := strings.TrimSpace(c.Query("date"))
	if date == "" {
		utils.BadRequest(c, "date query parameter is required")
		return
	}

	slots, err := h.Booking.ResolveAvailability(c.Request.Context(), id, date)
	if err != nil {
		utils.DomainError(c, err)
		return
	}
	utils.Success(c, "Availability fetched successfully", AvailabilityResponse{ClinicID: id, Date: date, Slots: slots})
}

// ClinicHoursInput is one weekday window in a clinic payload.
type ClinicHoursInput struct {
	DayOfWeek   int    `json:"dayOfWeek" binding:"min=0,max=6"`
	OpeningTime string `json:"openingTime" binding:"required"`
	ClosingTime string `json:"closingTime" binding:"required"`
}

// ClinicRequest represents the request body for creating or updating a clinic.
type ClinicRequest struct {
	Name      string             `json:"name" binding:"required"`
	Address   string             `json:"address" binding:"required"`
	City      string             `json:"city" binding:"required"`
	Latitude  float64            `json:"latitude" binding:"min=-90,max=90"`
	Longitude float64            `json:"longitude" binding:"min=-180,max=180"`
	Phone     string             `json:"phone"`
	Email     string             `json:"email" binding:"omitempty,email"`
	Website   string             `json:"website"`
	Status    string             `json:"status"`
	Hours     []ClinicHoursInput `json:"hours" binding:"dive"`
}

// CreateClinic handles creating a clinic (admin).
func (h *ClinicHandler) CreateClinic(c *gin.Context) {
	var req ClinicRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	clinic := models.Clinic{}
	if !applyClinicRequest(c, &clinic, req) {
		return
	}
	hours, ok := buildHours(c, req.Hours)
	if !ok {
		return
	}
	clinic.Hours = hours

	if err := h.Store.CreateClinic(c.Request.Context(), &clinic); err != nil {
		storeError(c, "Clinic", err)
		return
	}
	h.Logger.Info("clinic created", "clinic_id", clinic.ID, "name", clinic.Name)
	utils.Created(c, "Clinic created successfully", clinic)
}

// UpdateClinic handles updating a clinic's details (its manager or an admin).
// Hours are replaced through ReplaceClinicHours.
func (h *ClinicHandler) UpdateClinic(c *gin.Context) {
	id, ok := h.authorizeManage(c)
	if !ok {
		return
	}
	var req ClinicRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	ctx := c.Request.Context()
	clinic, err := h.Store.FindClinic(ctx, id)
	if err != nil {
		storeError(c, "Clinic", err)
		return
	}
	if !applyClinicRequest(c, &clinic, req) {
		return
	}
	if err := h.Store.UpdateClinic(ctx, &clinic); err != nil {
		storeError(c, "Clinic", err)
		return
	}
	h.Logger.Info("clinic updated", "clinic_id", clinic.ID, "status", clinic.Status)
	utils.Success(c, "Clinic updated successfully", clinic)
}

// ReplaceHoursRequest carries the complete weekly schedule of a clinic.
// Weekdays left out are closed.
type ReplaceHoursRequest struct {
	Hours []ClinicHoursInput `json:"hours" binding:"dive"`
}

// ReplaceClinicHours handles replacing a clinic's weekly hours (its manager or an admin).
func (h *ClinicHandler) ReplaceClinicHours(c *gin.Context) {
	id, ok := h.authorizeManage(c)
	if !ok {
		return
	}
	var req ReplaceHoursRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}
	hours, ok := buildHours(c, req.Hours)
	if !ok {
		return
	}

	saved, err := h.Store.UpsertClinicHours(c.Request.Context(), id, hours)
	if err != nil {
		storeError(c, "Clinic", err)
		return
	}
	if saved == nil {
		saved = []models.ClinicHours{}
	}
	h.Logger.Info("clinic hours replaced", "clinic_id", id, "days", len(saved))
	utils.Success(c, "Clinic hours updated successfully", saved)
}

// ListClinicAppointments handles a clinic's appointment book, optionally
// narrowed by ?date= and ?status= (its manager or an admin).
func (h *ClinicHandler) ListClinicAppointments(c *gin.Context) {
	id, ok := h.authorizeManage(c)
	if !ok {
		return
	}

	var filter storage.AppointmentFilter
	if raw := strings.TrimSpace(c.Query("date")); raw != "" {
		if _, err := schedule.ParseDate(raw); err != nil {
			utils.BadRequest(c, err.Error())
			return
		}
		filter.Date = raw
	}
	if raw := c.Query("status"); raw != "" {
		status, err := models.ParseAppointmentStatus(raw)
		if err != nil {
			utils.BadRequest(c, err.Error())
			return
		}
		filter.Status = status
	}

	ctx := c.Request.Context()
	if _, err := h.Store.FindClinic(ctx, id); err != nil {
		storeError(c, "Clinic", err)
		return
	}
	appts, err := h.Store.ListAppointmentsForClinic(ctx, id, filter)
	if err != nil {
		storeError(c, "Appointment", err)
		return
	}
	if appts == nil {
		appts = []models.Appointment{}
	}
	utils.Success(c, "Appointments fetched successfully", appts)
}

func (h *ClinicHandler) authorizeManage(c *gin.Context) (uint, bool) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		return 0, false
	}
	allowed, err := canManageClinic(c.Request.Context(), h.DB, middleware.GetPrincipal(c), id)
	if err != nil {
		storeError(c, "Clinic manager", err)
		return 0, false
	}
	if !allowed {
		utils.Forbidden(c, "You do not manage this clinic")
		return 0, false
	}
	return id, true
}

func applyClinicRequest(c *gin.Context, clinic *models.Clinic, req ClinicRequest) bool {
	clinic.Name = strings.TrimSpace(req.Name)
	clinic.Address = strings.TrimSpace(req.Address)
	clinic.City = strings.TrimSpace(req.City)
	clinic.Latitude = req.Latitude
	clinic.Longitude = req.Longitude
	clinic.Phone = strings.TrimSpace(req.Phone)
	clinic.Email = strings.TrimSpace(req.Email)
	clinic.Website = strings.TrimSpace(req.Website)
	if req.Status != "" {
		status, err := models.NormalizeClinicStatus(req.Status)
		if err != nil {
			utils.BadRequest(c, err.Error())
			return false
		}
		clinic.Status = status
	}
	return true
}

// buildHours validates weekday windows: times parse, opening precedes closing,
// and each weekday appears at most once.
func buildHours(c *gin.Context, in []ClinicHoursInput) ([]models.ClinicHours, bool) {
	seen := make(map[int]bool, len(in))
	out := make([]models.ClinicHours, 0, len(in))
	for _, h := range in {
		if seen[h.DayOfWeek] {
			utils.BadRequest(c, "dayOfWeek "+strconv.Itoa(h.DayOfWeek)+" appears more than once")
			return nil, false
		}
		seen[h.DayOfWeek] = true

		open, err := schedule.ParseClock(h.OpeningTime)
		if err != nil {
			utils.BadRequest(c, "openingTime: "+err.Error())
			return nil, false
		}
		closing, err := schedule.ParseClock(h.ClosingTime)
		if err != nil {
			utils.BadRequest(c, "closingTime: "+err.Error())
			return nil, false
		}
		if open >= closing {
			utils.BadRequest(c, "openingTime must be before closingTime")
			return nil, false
		}
		out = append(out, models.ClinicHours{
			DayOfWeek:   h.DayOfWeek,
			OpeningTime: open.String(),
			ClosingTime: closing.String(),
		})
	}
	return out, true
}
