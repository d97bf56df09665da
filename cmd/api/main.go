package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"

	"github.com/quickcourier/qcs-api/internal/domain"
	"github.com/quickcourier/qcs-api/internal/guard"
	"github.com/quickcourier/qcs-api/internal/guest"
	"github.com/quickcourier/qcs-api/internal/http/handlers"
	appmw "github.com/quickcourier/qcs-api/internal/http/middleware"
	"github.com/quickcourier/qcs-api/internal/organization"
	"github.com/quickcourier/qcs-api/internal/payments"
	"github.com/quickcourier/qcs-api/internal/platform/mailer"
	"github.com/quickcourier/qcs-api/internal/repo/postgres"
	"github.com/quickcourier/qcs-api/internal/repo/redisstore"
	"github.com/quickcourier/qcs-api/pkg/config"
	"github.com/quickcourier/qcs-api/pkg/database"
	"github.com/quickcourier/qcs-api/pkg/events"
	"github.com/quickcourier/qcs-api/pkg/logger"
	mw "github.com/quickcourier/qcs-api/pkg/middleware"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	rdb, err := redisstore.NewClient(cfg.Redis)
	if err != nil {
		logger.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	eventBus, err := events.NewNATSEventBus(cfg.NATS.URL)
	if err != nil {
		logger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer eventBus.Close()

	// Repositories
	usersRepo := postgres.NewUsersRepo(pool)
	sessionsRepo := postgres.NewSessionsRepo(pool, cfg.Session)
	orgsRepo := postgres.NewOrganizationsRepo(pool)
	shipmentsRepo := postgres.NewShipmentsRepo(pool)
	recoveryRepo := postgres.NewRecoveryRepo(pool, cfg.Guard.RecoveryWindow)

	// Guest store and guard state
	guestStore := guest.NewRedisStore(rdb, cfg.Guard.GuestDataTTL)
	stateStore := redisstore.NewStateStore(rdb, cfg.Guard.PreAuthStateTTL)

	// Organization refresher
	orgCache := organization.NewCache(rdb, cfg.Guard.OrgCacheTTL)
	orgClient := organization.NewClient(cfg.OrgAPI.BaseURL, cfg.OrgAPI.Timeout)
	refresher := organization.NewRefresher(orgCache, orgClient, eventBus, cfg.Guard.OrgStaleness, cfg.Guard.TokenExpiryBuffer)

	routeGuard := guard.New(stateStore, recoveryRepo, refresher, cfg.Guard.MaxRecoveryAttempts)

	// Outbound services
	var emailSvc mailer.Service
	if cfg.Email.DevMode || cfg.Email.MailerSendKey == "" {
		emailSvc = mailer.NewDevMailer()
	} else {
		emailSvc = mailer.NewMailer(cfg.Email.MailerSendKey, cfg.Email.FromName, cfg.Email.FromEmail)
	}
	pay := payments.New(cfg.Stripe.SecretKey)

	// Handlers
	authH := handlers.NewAuthHandler(usersRepo, sessionsRepo, eventBus, cfg.Session)
	onboardingH := handlers.NewOnboardingHandler(orgsRepo, usersRepo, emailSvc, eventBus)
	guestH := handlers.NewGuestHandler(guestStore, shipmentsRepo, usersRepo, pay, emailSvc, eventBus)
	shipmentsH := handlers.NewShipmentsHandler(shipmentsRepo, eventBus)
	organizationsH := handlers.NewOrganizationsHandler(orgsRepo)

	authLimiter := appmw.NewRateLimiter(pool, appmw.RateLimitConfig{
		Requests: 10,
		Window:   time.Minute,
		KeyFunc:  appmw.AuthRateLimitKeyFunc,
	})
	idemStore := redisstore.NewIdempotencyStore(rdb)

	r := chi.NewRouter()
	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("api"))
	r.Use(mw.Logging)
	r.Use(mw.SecurityHeaders)
	r.Use(mw.Health)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:3000", "*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "Idempotency-Key", appmw.GuestIDHeader},
		ExposedHeaders:   []string{"Link", appmw.GuestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(appmw.GuestID)
	r.Use(appmw.ResolveSession(sessionsRepo))

	retailReq := domain.RouteRequirement{
		RequireAuth:       true,
		RequireOnboarding: true,
		AllowedUserTypes:  []domain.UserType{domain.UserTypeRetail},
	}
	corporateReq := domain.RouteRequirement{
		RequireAuth:         true,
		RequireOnboarding:   true,
		AllowedUserTypes:    []domain.UserType{domain.UserTypeCorporate},
		RequireOrganization: true,
	}
	onboardingReq := domain.RouteRequirement{RequireAuth: true}

	r.Route("/v1", func(r chi.Router) {
		r.With(authLimiter.Middleware()).Mount("/auth", authH.Routes())

		r.Route("/guest", func(r chi.Router) {
			r.Use(mw.IdempotencyMiddleware(idemStore))
			r.Mount("/", guestH.Routes())
		})

		r.Route("/retail", func(r chi.Router) {
			r.With(appmw.Protect(routeGuard, onboardingReq)).
				Mount("/onboarding", onboardingH.RetailRoutes())
			r.With(appmw.Protect(routeGuard, retailReq)).
				Mount("/shipments", shipmentsH.Routes())
		})

		r.Route("/corporate", func(r chi.Router) {
			r.With(appmw.Protect(routeGuard, onboardingReq)).
				Mount("/onboarding", onboardingH.CorporateRoutes())
			r.With(appmw.Protect(routeGuard, corporateReq)).
				Mount("/shipments", shipmentsH.OrgRoutes())
		})
	})

	// Backend lookup used by the refresher. Requires a bearer token but no
	// portal guard; it is called mid-evaluation.
	r.Route("/api/organizations", func(r chi.Router) {
		r.Use(appmw.RequireAuth)
		r.Mount("/", organizationsH.Routes())
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down API...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("API shutdown error", "error", err)
		}
	}()

	logger.Info("Starting API", "port", cfg.Server.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("API server error", "error", err)
		os.Exit(1)
	}
}
