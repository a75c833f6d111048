package main

import (
	"log"
	"subsplit-backend/config"
	"subsplit-backend/database"
	"subsplit-backend/handlers"
	"subsplit-backend/middleware"
	"subsplit-backend/services"
	"subsplit-backend/store"

	"github.com/gin-gonic/gin"
)

func main() {
	// Load configuration
	config.Load()

	// Connect to database
	database.Connect()

	// Connect to Redis (optional, won't crash if unavailable)
	database.ConnectRedis()

	// Wire services
	cfg := config.AppConfig
	st := store.New(database.DB)
	notifier := services.NewNotificationService(st, cfg.FirebaseCredPath, cfg.SendGridAPIKey, cfg.SendGridFrom, cfg.AppName)
	lifecycle := services.NewLifecycle(st, notifier)
	orchestrator := services.NewOrchestrator(
		st,
		services.NewHTTPProcessor(cfg.ProcessorURL, cfg.ProcessorKey),
		services.NewHTTPCardIssuer(cfg.CardIssuerURL, cfg.CardIssuerKey),
		notifier,
		services.NewRoundLocker(database.Redis),
		services.ChargingConfig{
			Currency:        cfg.Currency,
			FeePct:          cfg.ProcessorFee,
			FeeFixed:        cfg.ProcessorFix,
			Fanout:          cfg.ChargeFanout,
			BreakerFailures: cfg.BreakerFailures,
			RoundTimeout:    cfg.RoundTimeout,
		},
	)
	cache := services.NewGroupCache(database.Redis, cfg.CacheTTL)
	handlers.Init(st, lifecycle, orchestrator, cache)

	// Setup router
	r := gin.Default()
	r.Use(middleware.CORSMiddleware())

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": config.AppConfig.AppName,
		})
	})

	// ==========================================
	// AUTH ROUTES (public)
	// ==========================================
	auth := r.Group("/auth")
	{
		auth.POST("/register", handlers.Register)
		auth.POST("/login", handlers.Login)
	}

	// ==========================================
	// API ROUTES (authenticated)
	// ==========================================
	api := r.Group("/api")
	api.Use(middleware.AuthRequired())
	{
		// User
		api.GET("/users/me", handlers.GetProfile)
		api.PUT("/users/me", handlers.UpdateProfile)
		api.PUT("/users/me/fcm-token", handlers.UpdateFCMToken)
		api.POST("/users/search", handlers.SearchUsers)
		api.DELETE("/users/me", handlers.DeleteAccount)

		// Groups & membership
		api.POST("/groups", handlers.CreateGroup)
		api.GET("/groups", handlers.GetGroups)
		api.GET("/groups/:id", handlers.GetGroup)
		api.PUT("/groups/:id", handlers.UpdateGroup)
		api.DELETE("/groups/:id/members/:uid", handlers.RemoveMember)
		api.POST("/groups/:id/leader/:uid", handlers.TransferLeadership)

		// Invitations & join requests
		api.POST("/groups/:id/invitations", handlers.InviteToGroup)
		api.POST("/groups/:id/join-requests", handlers.RequestJoin)
		api.GET("/invitations", handlers.MyInvitations)
		api.POST("/invitations/:id/accept", handlers.AcceptInvitation)
		api.POST("/invitations/:id/decline", handlers.DeclineInvitation)

		// Subscription lifecycle
		api.POST("/groups/:id/finalize", handlers.FinalizeGroup)
		api.POST("/groups/:id/confirm", handlers.ConfirmShare)
		api.POST("/groups/:id/charge", handlers.ChargeGroup)
		api.GET("/groups/:id/rounds/:rid", handlers.GetRound)
		api.POST("/groups/:id/rounds/:rid/cancel", handlers.CancelRound)
		api.GET("/groups/:id/billing", handlers.GetBilling)

		// Activity
		api.GET("/activity", handlers.GetActivity)
		api.GET("/groups/:id/activity", handlers.GetGroupActivity)
	}

	// Start server
	port := config.AppConfig.Port
	addr := "0.0.0.0:" + port
	log.Printf("🚀 %s server starting on %s", config.AppConfig.AppName, addr)
	if err := r.Run(addr); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
