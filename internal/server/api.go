package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/aimerfeng/FinderMeister/internal/admin"
	"github.com/aimerfeng/FinderMeister/internal/auth"
	"github.com/aimerfeng/FinderMeister/internal/cache"
	"github.com/aimerfeng/FinderMeister/internal/config"
	"github.com/aimerfeng/FinderMeister/internal/contracts"
	apierrors "github.com/aimerfeng/FinderMeister/internal/errors"
	"github.com/aimerfeng/FinderMeister/internal/finds"
	"github.com/aimerfeng/FinderMeister/internal/ledger"
	"github.com/aimerfeng/FinderMeister/internal/logging"
	"github.com/aimerfeng/FinderMeister/internal/maintenance"
	"github.com/aimerfeng/FinderMeister/internal/messaging"
	"github.com/aimerfeng/FinderMeister/internal/middleware"
	"github.com/aimerfeng/FinderMeister/internal/models"
	"github.com/aimerfeng/FinderMeister/internal/monitoring"
	"github.com/aimerfeng/FinderMeister/internal/notify"
	"github.com/aimerfeng/FinderMeister/internal/payment"
	"github.com/aimerfeng/FinderMeister/internal/proposals"
	"github.com/aimerfeng/FinderMeister/internal/reviews"
	"github.com/aimerfeng/FinderMeister/internal/strikes"
	"github.com/aimerfeng/FinderMeister/internal/withdrawal"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// APIServer represents the main API server
type APIServer struct {
	config           *config.Config
	router           *gin.Engine
	db               *pgxpool.Pool
	redis            *cache.Redis
	jwtAuthenticator *middleware.JWTAuthenticator
	rateLimiter      *cache.RateLimiter

	authService       *auth.Service
	findService       *finds.Service
	proposalService   *proposals.Service
	contractService   *contracts.Service
	reviewService     *reviews.Service
	ledgerService     *ledger.Service
	strikeService     *strikes.Service
	messagingService  *messaging.Service
	adminService      *admin.Service
	paymentService    *payment.Service
	withdrawalService *withdrawal.Service
	scheduler         *maintenance.Scheduler
}

// NewAPIServer creates a new API server instance. redis may be nil, in
// which case rate limiting is off and maintenance runs without a lock.
func NewAPIServer(cfg *config.Config, db *pgxpool.Pool, redis *cache.Redis, notifier notify.Notifier) *APIServer {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	if notifier == nil {
		notifier = notify.Noop{}
	}

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.CORS(cfg.CORS.AllowedOrigins))
	router.Use(monitoring.MetricsMiddleware())
	router.Use(logging.RequestLogger())

	srv := &APIServer{
		config:           cfg,
		router:           router,
		db:               db,
		redis:            redis,
		jwtAuthenticator: middleware.NewJWTAuthenticator(&cfg.JWT),

		authService:       auth.NewService(db, &cfg.JWT, &cfg.Tokens),
		findService:       finds.NewService(db),
		proposalService:   proposals.NewService(db, &cfg.Tokens, notifier),
		contractService:   contracts.NewService(db, &cfg.Contracts, notifier),
		reviewService:     reviews.NewService(db),
		ledgerService:     ledger.NewService(db, &cfg.Tokens),
		strikeService:     strikes.NewService(db, &cfg.Strikes, notifier),
		messagingService:  messaging.NewService(db),
		adminService:      admin.NewService(db),
		paymentService:    payment.NewService(db, &cfg.Stripe, cfg.Server.FrontendURL),
		withdrawalService: withdrawal.NewService(db, &cfg.Withdrawal),
	}

	var locker maintenance.Locker
	if redis != nil {
		locker = redis
		srv.rateLimiter = cache.NewRateLimiter(redis, cfg.RateLimit.WindowSeconds)
	}
	srv.scheduler = maintenance.NewScheduler(srv.strikeService, srv.contractService, srv.ledgerService, locker, cfg.Maintenance.Interval)

	srv.setupRoutes()
	return srv
}

// Router returns the gin router
func (s *APIServer) Router() http.Handler {
	return s.router
}

// Scheduler returns the maintenance scheduler; the caller starts and stops it
func (s *APIServer) Scheduler() *maintenance.Scheduler {
	return s.scheduler
}

// setupRoutes configures all API routes
func (s *APIServer) setupRoutes() {
	s.router.GET("/health", s.healthCheck)

	rateLimit := middleware.RateLimit(s.rateLimiter, &s.config.RateLimit)
	api := s.router.Group("/api")

	// Public routes
	public := api.Group("", rateLimit)
	{
		public.POST("/auth/register", s.handleRegister)
		public.POST("/auth/login", s.handleLogin)
		public.POST("/auth/refresh", s.handleRefresh)
		public.GET("/categories", s.handleListCategories)
		public.GET("/finder-levels", s.handleListFinderLevels)
		public.GET("/offenses/:role", s.handleListOffenses)
		public.GET("/finders/:id/reviews", s.handleListFinderReviews)
	}

	// Authenticated by the Stripe signature header
	api.POST("/payments/webhook/stripe", s.handleStripeWebhook)

	// Any authenticated user
	authed := api.Group("", s.jwtAuthenticator.JWTAuth(), rateLimit)
	{
		authed.GET("/auth/me", s.handleMe)
		authed.POST("/auth/change-password", s.handleChangePassword)
		authed.POST("/auth/update-profile", s.handleUpdateProfile)

		authed.GET("/users/:userId/strikes", s.handleUserStrikes)
		authed.GET("/users/:userId/restrictions", s.handleUserRestrictions)
		authed.GET("/users/:userId/badges", s.handleUserBadges)
		authed.GET("/users/me/trainings", s.handleListTrainings)
		authed.POST("/trainings/:id/start", s.handleStartTraining)
		authed.POST("/trainings/:id/complete", s.handleCompleteTraining)
		authed.POST("/disputes", s.handleFileDispute)
		authed.GET("/disputes/my", s.handleMyDisputes)
		authed.POST("/badges", s.handleAwardBadge)

		authed.GET("/contracts/my", s.handleMyContracts)
		authed.GET("/contracts/:id", s.handleGetContract)

		messages := authed.Group("/messages", middleware.RequireCapability(s.strikeService, models.CapabilityMessage))
		{
			messages.POST("/conversations", s.handleStartConversation)
			messages.GET("/conversations", s.handleListConversations)
			messages.GET("/conversations/:id/messages", s.handleListMessages)
			messages.POST("/conversations/:id/messages", s.handleSendMessage)
		}

		authed.POST("/support/tickets", s.handleCreateTicket)
		authed.GET("/support/tickets", s.handleMyTickets)
	}

	// Client routes
	client := api.Group("", s.jwtAuthenticator.JWTAuth(), rateLimit, middleware.RequireClient())
	{
		client.POST("/client/finds", middleware.RequireCapability(s.strikeService, models.CapabilityPost), s.handleCreateFind)
		client.GET("/client/finds", s.handleMyFinds)
		client.POST("/client/finds/:id/cancel", s.handleCancelFind)
		client.GET("/client/finds/:id/proposals", s.handleFindProposals)
		client.GET("/client/proposals", s.handleClientProposals)
		client.POST("/proposals/:id/accept", s.handleAcceptProposal)
		client.POST("/proposals/:id/reject", s.handleRejectProposal)
		client.POST("/submissions/:id/review", s.handleReviewSubmission)
		client.POST("/contracts/:id/release-payment", s.handleReleasePayment)
		client.POST("/reviews", s.handleCreateReview)
	}

	// Finder routes
	finder := api.Group("", s.jwtAuthenticator.JWTAuth(), rateLimit, middleware.RequireFinder())
	{
		finder.GET("/finds", s.handleListOpenFinds)
		finder.GET("/finds/:id", s.handleGetFind)
		finder.POST("/proposals", middleware.RequireCapability(s.strikeService, models.CapabilityApply), s.handleSubmitProposal)
		finder.GET("/finder/proposals", s.handleFinderProposals)
		finder.POST("/contracts/:id/complete", s.handleMarkComplete)
		finder.POST("/contracts/:id/submissions", s.handleSubmitWork)
		finder.GET("/finder/tokens", s.handleTokenBalance)
		finder.GET("/finder/tokens/transactions", s.handleTokenTransactions)
		finder.GET("/finder/earnings", s.handleEarnings)
		finder.GET("/token-packages", s.handleListTokenPackages)
		finder.POST("/tokens/checkout", s.handleCheckout)
		finder.GET("/tokens/purchases", s.handleListPurchases)
		finder.POST("/withdrawals", s.handleRequestWithdrawal)
		finder.GET("/withdrawals", s.handleWithdrawalHistory)
	}

	// Admin routes
	adminGroup := api.Group("/admin", s.jwtAuthenticator.JWTAuth(), rateLimit, middleware.RequireAdmin())
	{
		adminGroup.GET("/users", s.handleAdminListUsers)
		adminGroup.POST("/users/:id/ban", s.handleAdminBan)
		adminGroup.POST("/users/:id/unban", s.handleAdminUnban)
		adminGroup.POST("/users/:id/verify", s.handleAdminVerify)
		adminGroup.POST("/users/:id/unverify", s.handleAdminUnverify)

		adminGroup.GET("/categories", s.handleAdminListCategories)
		adminGroup.POST("/categories", s.handleAdminCreateCategory)
		adminGroup.PUT("/categories/:id", s.handleAdminUpdateCategory)
		adminGroup.DELETE("/categories/:id", s.handleAdminDeleteCategory)

		adminGroup.GET("/token-packages", s.handleAdminListPackages)
		adminGroup.POST("/token-packages", s.handleAdminCreatePackage)
		adminGroup.PUT("/token-packages/:id", s.handleAdminUpdatePackage)
		adminGroup.DELETE("/token-packages/:id", s.handleAdminDeactivatePackage)
		adminGroup.GET("/token-grants", s.handleAdminListGrants)
		adminGroup.POST("/token-grants", s.handleAdminGrantTokens)
		adminGroup.POST("/distribute-monthly-tokens", s.handleAdminDistributeMonthly)

		adminGroup.POST("/strikes", s.handleAdminIssueStrike)
		adminGroup.GET("/disputes", s.handleAdminListDisputes)
		adminGroup.POST("/disputes/:id/resolve", s.handleAdminResolveDispute)

		adminGroup.POST("/maintenance/run", s.handleAdminRunMaintenance)
		adminGroup.GET("/maintenance/status", s.handleAdminMaintenanceStatus)

		adminGroup.GET("/support/tickets", s.handleAdminListTickets)
		adminGroup.PUT("/support/tickets/:id", s.handleAdminUpdateTicket)

		adminGroup.GET("/withdrawals", s.handleAdminListWithdrawals)
		adminGroup.POST("/withdrawals/:id/approve", s.handleAdminApproveWithdrawal)
		adminGroup.POST("/withdrawals/:id/reject", s.handleAdminRejectWithdrawal)
		adminGroup.POST("/withdrawals/:id/paid", s.handleAdminMarkWithdrawalPaid)
	}
}

// Health check handler
func (s *APIServer) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	healthy := true
	if s.db != nil {
		if err := s.db.Ping(ctx); err != nil {
			checks["database"] = "unhealthy"
			healthy = false
		} else {
			checks["database"] = "healthy"
		}
		monitoring.RecordPoolStats(s.db)
	}
	if s.redis != nil {
		if err := s.redis.Health(ctx); err != nil {
			// Redis is optional; its absence does not fail the check
			checks["redis"] = "unhealthy"
		} else {
			checks["redis"] = "healthy"
		}
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":  status,
		"service": "api",
		"checks":  checks,
	})
}

// respondError sends a standardized error response for err
func respondError(c *gin.Context, err error) {
	apiErr := toAPIError(err)
	if apiErr.HTTPStatus >= http.StatusInternalServerError {
		logging.LogError(err, middleware.GetRequestIDFromContext(c), "api", c.FullPath())
	}

	c.JSON(apiErr.HTTPStatus, apierrors.NewErrorResponse(
		apiErr,
		middleware.GetRequestIDFromContext(c),
		middleware.GetCorrelationIDFromContext(c),
		c.Request.URL.Path,
		c.Request.Method,
	))
}

// bindJSON decodes the body into req, responding with a validation error on failure
func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return false
	}
	return true
}

// currentUser returns the authenticated caller's id
func currentUser(c *gin.Context) (uuid.UUID, bool) {
	userID, ok := middleware.GetUserUUID(c)
	if !ok {
		respondError(c, apierrors.ErrUnauthorizedError)
	}
	return userID, ok
}

// uuidParam parses a path parameter as a UUID
func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		respondError(c, apierrors.NewInvalidRequestError("Invalid "+name))
		return uuid.Nil, false
	}
	return id, true
}

// pagination reads page and page_size query parameters
func pagination(c *gin.Context) (page, pageSize int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "20"))
	return page, pageSize
}

// selfOrAdmin allows a caller to read their own data, or anyone's as admin
func selfOrAdmin(c *gin.Context, target uuid.UUID) bool {
	userID, ok := currentUser(c)
	if !ok {
		return false
	}
	if userID != target && middleware.GetRoleFromContext(c) != models.RoleAdmin {
		respondError(c, apierrors.ErrForbiddenError)
		return false
	}
	return true
}
