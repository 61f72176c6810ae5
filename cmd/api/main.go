package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"studyroom/internal/assignment"
	"studyroom/internal/attendance"
	"studyroom/internal/auth"
	"studyroom/internal/checklink"
	"studyroom/internal/config"
	"studyroom/internal/events"
	"studyroom/internal/httpmiddleware"
	"studyroom/internal/layout"
	"studyroom/internal/metrics"
	"studyroom/internal/pinauth"
	"studyroom/internal/rosterclient"
	"studyroom/internal/store"
)

func main() {
	cfg := config.Load()

	// Set Gin mode based on environment
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

// engine bundles the wired domain services.
type engine struct {
	layouts     *layout.Store
	assignments *assignment.Manager
	records     *attendance.Engine
	stats       *attendance.Aggregator
	pins        *pinauth.Service
	links       *checklink.Service
	roster      *rosterclient.Client
}

func buildEngine(cfg config.App, db *store.DB, bus events.Bus) engine {
	var (
		layoutRepo layout.Repository
		asgRepo    assignment.Repository
		recRepo    attendance.Repository
		pinRepo    pinauth.Repository
		linkRepo   checklink.Repository
	)
	if cfg.StorageBackend == "memory" || db == nil || db.Client == nil {
		layoutRepo = layout.NewMemRepository()
		asgRepo = assignment.NewMemRepository()
		recRepo = attendance.NewMemRepository()
		pinRepo = pinauth.NewMemRepository()
		linkRepo = checklink.NewMemRepository()
	} else {
		layoutRepo = layout.NewPostgresRepository(db.Client)
		asgRepo = assignment.NewPostgresRepository(db.Client)
		recRepo = attendance.NewPostgresRepository(db.Client)
		pinRepo = pinauth.NewPostgresRepository(db.Client)
		linkRepo = checklink.NewPostgresRepository(db.Client)
	}

	layouts := layout.NewStore(layoutRepo)
	assignments := assignment.NewManager(asgRepo, layouts, bus)
	records := attendance.NewEngine(recRepo, assignments, layouts, attendance.Policy{
		ExpectedArrival:   cfg.ExpectedArrival,
		ExpectedDeparture: cfg.ExpectedDeparture,
		RecalcOnReentry:   cfg.RecalcOnReentry,
	}, bus)

	return engine{
		layouts:     layouts,
		assignments: assignments,
		records:     records,
		stats:       attendance.NewAggregator(records, assignments, layouts),
		pins:        pinauth.NewService(pinRepo, cfg.PinMaxAttempts),
		links:       checklink.NewService(linkRepo, layouts, bus),
		roster:      rosterclient.New(cfg.RosterURL, cfg.RosterSkip),
	}
}

func runHTTP(cfg config.App) error {
	var db *store.DB
	if cfg.StorageBackend != "memory" {
		var err error
		db, err = store.NewDB(cfg.DatabaseURL)
		if err != nil {
			log.Printf("warning: db not reachable: %v", err)
		} else if err := db.EnsureSchema(context.Background()); err != nil {
			log.Printf("warning: schema apply failed: %v", err)
		}
	}
	defer func() {
		if db != nil {
			_ = db.Close()
		}
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var bus events.Bus
	if cfg.EventBackend == "memory" {
		bus = events.NewInMemory(64)
	} else {
		bus = events.NewRedisBus(redisClient.Client, "studyroom:events")
	}

	eng := buildEngine(cfg, db, bus)
	r := newRouter(cfg, eng, db, redisClient)

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

func newRouter(cfg config.App, eng engine, db *store.DB, redisClient *store.Redis) *gin.Engine {
	r := gin.New()

	// Recovery middleware
	r.Use(gin.Recovery())

	// Custom logger
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))

	// CORS middleware
	r.Use(corsMiddleware())

	// Security headers
	r.Use(securityHeaders())

	limiter := httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	r.Use(limiter.GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		ctx := c.Request.Context()
		redisHealthy := redisClient.Healthy(ctx)
		dbHealthy := db != nil || cfg.StorageBackend == "memory"
		// Roster is display-only; report it but never fail on it.
		rosterHealthy := eng.roster.Health(ctx) == nil
		status := http.StatusOK
		if !redisHealthy && cfg.EventBackend != "memory" {
			status = http.StatusServiceUnavailable
		}
		if !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy, "roster": rosterHealthy})
	})

	r.POST("/v1/staff/login", func(c *gin.Context) {
		var req struct {
			Name     string `json:"name" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if cfg.StaffPassword == "" || req.Password != cfg.StaffPassword {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "bad credentials"})
			return
		}
		token, exp, err := auth.Issue(req.Name, "staff", cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"access_token": token, "expires_at": exp.Unix()})
	})

	// Public check-link endpoints. Rate limited per IP+token so one
	// hot link cannot starve other callers.
	linkLimiter := httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	linkGroup := r.Group("/v1/links/:token", linkLimiter.GinMiddlewareKeyed(func(c *gin.Context) string {
		return c.ClientIP() + "|" + c.Param("token")
	}))
	linkGroup.POST("/checkin", linkTransition(eng, true))
	linkGroup.POST("/checkout", linkTransition(eng, false))

	staff := r.Group("/v1", auth.StaffAuth(cfg.JWTSigningKey, cfg.JWTIssuer))
	registerStaffRoutes(staff, eng)

	return r
}

// linkTransition handles public check-in/out through a check link. The
// link token authorizes the layout; the pin method additionally proves
// the student's identity before any record is touched.
func linkTransition(eng engine, checkIn bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			StudentID string `json:"student_id" binding:"required"`
			Method    string `json:"method" binding:"required"`
			PIN       string `json:"pin"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Method != attendance.MethodQR && req.Method != attendance.MethodPIN {
			c.JSON(http.StatusBadRequest, gin.H{"error": "method must be qr or pin"})
			return
		}

		ctx := c.Request.Context()
		link, err := eng.links.Resolve(ctx, c.Param("token"))
		if err != nil {
			respondErr(c, err)
			return
		}

		if req.Method == attendance.MethodPIN {
			if err := eng.pins.Verify(ctx, req.StudentID, req.PIN); err != nil {
				switch {
				case errors.Is(err, pinauth.ErrLocked):
					metrics.PinVerifications.WithLabelValues("locked").Inc()
				case errors.Is(err, pinauth.ErrMismatch):
					metrics.PinVerifications.WithLabelValues("mismatch").Inc()
				}
				respondErr(c, err)
				return
			}
			metrics.PinVerifications.WithLabelValues("ok").Inc()
		}

		now := time.Now().UTC()
		var rec attendance.Record
		if checkIn {
			rec, err = eng.records.CheckIn(ctx, req.StudentID, link.LayoutID, req.Method, now)
		} else {
			rec, err = eng.records.CheckOut(ctx, req.StudentID, link.LayoutID, req.Method, now)
		}
		if err != nil {
			respondErr(c, err)
			return
		}

		if err := eng.links.RecordUsage(ctx, link.Token); err != nil {
			log.Printf("record link usage failed: %v", err)
		}
		metrics.LinkUsage.Inc()
		if checkIn {
			metrics.CheckIns.WithLabelValues(req.Method).Inc()
		} else {
			metrics.CheckOuts.WithLabelValues(req.Method).Inc()
		}

		c.JSON(http.StatusOK, rec)
	}
}

// respondErr maps domain sentinels onto HTTP statuses. Anything
// unrecognized is reported generically so storage internals stay
// out of responses.
func respondErr(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	msg := err.Error()
	switch {
	case errors.Is(err, layout.ErrNotFound),
		errors.Is(err, layout.ErrSeatNotFound),
		errors.Is(err, assignment.ErrNotFound),
		errors.Is(err, attendance.ErrNotFound),
		errors.Is(err, checklink.ErrNotFound),
		errors.Is(err, pinauth.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, assignment.ErrSeatOccupied),
		errors.Is(err, assignment.ErrStudentAssigned),
		errors.Is(err, attendance.ErrAlreadyFinalized),
		errors.Is(err, attendance.ErrAlreadyCheckedIn),
		errors.Is(err, attendance.ErrNotCheckedIn),
		errors.Is(err, attendance.ErrAlreadyPresent),
		errors.Is(err, attendance.ErrNotAssigned):
		status = http.StatusConflict
	case errors.Is(err, attendance.ErrReasonRequired),
		errors.Is(err, attendance.ErrBadMethod),
		errors.Is(err, pinauth.ErrBadPIN):
		status = http.StatusBadRequest
	case errors.Is(err, pinauth.ErrLocked):
		status = http.StatusLocked
	case errors.Is(err, pinauth.ErrMismatch):
		status = http.StatusUnauthorized
	case errors.Is(err, checklink.ErrExpired),
		errors.Is(err, checklink.ErrInactive):
		status = http.StatusGone
	default:
		log.Printf("internal error: %v", err)
		msg = "internal error"
	}
	c.JSON(status, gin.H{"error": msg})
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
