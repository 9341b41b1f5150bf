package routes

import (
	"fmt"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"clinic-finder-server/internal/booking"
	"clinic-finder-server/internal/config"
	"clinic-finder-server/internal/handlers"
	"clinic-finder-server/internal/logging"
	"clinic-finder-server/internal/metrics"
	"clinic-finder-server/internal/middleware"
	"clinic-finder-server/internal/models"
	"clinic-finder-server/internal/storage"
)

// Deps are the collaborators the HTTP surface is built from.
type Deps struct {
	DB       *gorm.DB
	Config   *config.Config
	Store    *storage.GormStore
	Booking  *booking.Service
	Limiter  middleware.Limiter
	Metrics  *metrics.BookingMetrics
	Logger   *logging.Logger
	Gatherer prometheus.Gatherer
}

// NewEngine builds the gin engine with recovery, access logging and CORS.
// Forwarding headers are honoured only from cfg.TrustedProxies; with none
// configured the client IP is the socket peer, which the rate limiter keys on.
func NewEngine(cfg *config.Config, logger *logging.Logger) (*gin.Engine, error) {
	router := gin.New()
	if err := router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	router.Use(gin.Recovery(), middleware.RequestLogger(logger))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{cfg.Origin}
	corsConfig.AllowCredentials = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.RequestIDHeader}
	corsConfig.ExposeHeaders = []string{middleware.RequestIDHeader}
	router.Use(cors.New(corsConfig))
	return router, nil
}

// SetupRoutes configures the application routes.
func SetupRoutes(router *gin.Engine, d Deps) {
	cfg := d.Config
	authHandler := handlers.NewAuthHandler(d.DB, cfg, d.Logger)
	userHandler := handlers.NewUserHandler(d.DB, d.Logger)
	clinicHandler := handlers.NewClinicHandler(d.DB, d.Store, d.Booking, d.Logger)
	appointmentHandler := handlers.NewAppointmentHandler(d.DB, d.Store, d.Booking, d.Logger)

	limiter := d.Limiter
	if limiter == nil {
		limiter = middleware.NewMemoryRateLimiter(cfg.RateLimit.Limit, cfg.RateLimit.Window)
	}
	// Guest bookings fail closed: an unreachable limiter must not open the door to spam.
	guestLimit := middleware.RateLimit(limiter, d.Metrics, d.Logger, false)
	authLimit := middleware.RateLimit(limiter, d.Metrics, d.Logger, true)

	public := router.Group("/api/v1")
	{
		authRoutes := public.Group("/auth")
		{
			authRoutes.POST("/register", authLimit, authHandler.Register)
			authRoutes.POST("/login", authLimit, authHandler.Login)
			authRoutes.POST("/refresh-token", authHandler.RefreshToken)
		}

		clinicRoutes := public.Group("/clinics")
		{
			clinicRoutes.GET("", clinicHandler.ListClinics)
			clinicRoutes.GET("/nearby", clinicHandler.NearbyClinics)
			clinicRoutes.GET("/:id", clinicHandler.GetClinic)
			clinicRoutes.GET("/:id/hours", clinicHandler.GetClinicHours)
			clinicRoutes.GET("/:id/availability", clinicHandler.GetAvailability)
			clinicRoutes.GET("/:id/doctors", userHandler.ListClinicDoctors)
		}

		public.POST("/appointments/guest", guestLimit, middleware.OptionalAuth(cfg), appointmentHandler.CreateGuestAppointment)
	}

	private := router.Group("/api/v1")
	private.Use(middleware.AuthMiddleware(cfg))
	{
		authRoutesPrivate := private.Group("/auth")
		{
			authRoutesPrivate.POST("/logout", authHandler.Logout)
			authRoutesPrivate.GET("/profile", authHandler.GetProfile)
			authRoutesPrivate.PUT("/profile", authHandler.UpdateProfile)
		}

		appointmentRoutes := private.Group("/appointments")
		{
			appointmentRoutes.POST("", appointmentHandler.CreateAppointment)
			appointmentRoutes.GET("", appointmentHandler.GetMyAppointments)
			appointmentRoutes.GET("/:id", appointmentHandler.GetAppointmentByID)
			appointmentRoutes.PATCH("/:id/cancel", appointmentHandler.CancelAppointment)
			appointmentRoutes.PATCH("/:id/reschedule", appointmentHandler.RescheduleAppointment)
		}

		// Clinic-level checks happen in the handler; the role gate only keeps patients out.
		manageRoutes := private.Group("/manage/clinics/:id")
		manageRoutes.Use(middleware.RoleAuthMiddleware(models.RoleClinicManager, models.RoleAdmin))
		{
			manageRoutes.GET("/appointments", clinicHandler.ListClinicAppointments)
			manageRoutes.PUT("/hours", clinicHandler.ReplaceClinicHours)
			manageRoutes.PUT("", clinicHandler.UpdateClinic)
		}

		adminRoutes := private.Group("/admin")
		adminRoutes.Use(middleware.RoleAuthMiddleware(models.RoleAdmin))
		{
			adminRoutes.POST("/clinics", clinicHandler.CreateClinic)

			adminRoutes.POST("/users", userHandler.CreateUser)
			adminRoutes.GET("/users", userHandler.GetUsers)
			adminRoutes.GET("/users/:id", userHandler.GetUserByID)
			adminRoutes.PUT("/users/:id", userHandler.UpdateUser)
			adminRoutes.DELETE("/users/:id", userHandler.DeleteUser)

			adminRoutes.PATCH("/managers/:id/activate", userHandler.ActivateManager)
			adminRoutes.PATCH("/managers/:id/deactivate", userHandler.DeactivateManager)

			adminRoutes.DELETE("/appointments/:id", appointmentHandler.AdminDeleteAppointment)
			adminRoutes.PATCH("/appointments/:id/cancel", appointmentHandler.AdminCancelAppointment)
		}
	}

	router.GET("/health", func(c *gin.Context) {
		if sqlDB, err := d.DB.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "DOWN"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "UP"})
	})

	if d.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}
}
