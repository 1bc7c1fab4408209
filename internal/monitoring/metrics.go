package monitoring

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Rate limiting metrics
	RateLimitHits *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	// Marketplace metrics
	FindsCreated        prometheus.Counter
	ProposalsSubmitted  prometheus.Counter
	ContractsCreated    prometheus.Counter
	PaymentsReleased    *prometheus.CounterVec
	PaymentsReleasedSum prometheus.Counter
	TokensMoved         *prometheus.CounterVec
	TokenPurchases      *prometheus.CounterVec
	Withdrawals         *prometheus.CounterVec

	// Strike engine metrics
	StrikesIssued       *prometheus.CounterVec
	RestrictionsApplied *prometheus.CounterVec

	// Notification metrics
	EmailDeliveries     *prometheus.CounterVec
	CircuitBreakerState *prometheus.GaugeVec

	// Scheduler metrics
	MaintenanceRuns     *prometheus.CounterVec
	MaintenanceDuration prometheus.Histogram
}

var (
	metrics  *Metrics
	initOnce sync.Once
)

// Init initializes all Prometheus metrics
func Init() *Metrics {
	initOnce.Do(func() {
		metrics = newMetrics()
	})
	return metrics
}

func newMetrics() *Metrics {
	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),

		RateLimitHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_limit_hits_total",
				Help: "Total number of rate limit hits",
			},
			[]string{"caller"},
		),

		DBConnectionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "db_connections_idle",
				Help: "Number of idle database connections",
			},
		),

		FindsCreated: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "finds_created_total",
				Help: "Total number of finds posted",
			},
		),
		ProposalsSubmitted: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "proposals_submitted_total",
				Help: "Total number of proposals submitted",
			},
		),
		ContractsCreated: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "contracts_created_total",
				Help: "Total number of contracts created by accepting a proposal",
			},
		),
		PaymentsReleased: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payments_released_total",
				Help: "Total number of escrow releases",
			},
			[]string{"trigger"},
		),
		PaymentsReleasedSum: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "payments_released_amount_total",
				Help: "Total amount released from escrow",
			},
		),
		TokensMoved: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "findertokens_total",
				Help: "Findertokens debited or credited",
			},
			[]string{"direction", "reason"},
		),
		TokenPurchases: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "token_purchases_total",
				Help: "Token package purchases by status",
			},
			[]string{"status"},
		),
		Withdrawals: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "withdrawals_total",
				Help: "Withdrawal requests by status",
			},
			[]string{"status"},
		),

		StrikesIssued: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strikes_issued_total",
				Help: "Strikes issued by consequence level",
			},
			[]string{"level"},
		),
		RestrictionsApplied: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "restrictions_applied_total",
				Help: "Restrictions applied by type",
			},
			[]string{"type"},
		),

		EmailDeliveries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "email_deliveries_total",
				Help: "Email notifications by kind and status",
			},
			[]string{"kind", "status"},
		),
		CircuitBreakerState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 0.5=half-open)",
			},
			[]string{"name"},
		),

		MaintenanceRuns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maintenance_runs_total",
				Help: "Maintenance scheduler runs by outcome",
			},
			[]string{"status"},
		),
		MaintenanceDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "maintenance_duration_seconds",
				Help:    "Duration of a maintenance run",
				Buckets: []float64{.05, .1, .5, 1, 5, 15, 60},
			},
		),
	}
}

// Get returns the global metrics instance
func Get() *Metrics {
	return Init()
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// MetricsMiddleware is a Gin middleware for collecting HTTP metrics
func MetricsMiddleware() gin.HandlerFunc {
	m := Get()
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method

		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

// RecordRateLimitHit records a rate limit hit
func RecordRateLimitHit(caller string) {
	Get().RateLimitHits.WithLabelValues(caller).Inc()
}

// RecordPoolStats copies pgxpool statistics into the connection gauges
func RecordPoolStats(pool *pgxpool.Pool) {
	stat := pool.Stat()
	Get().DBConnectionsActive.Set(float64(stat.AcquiredConns()))
	Get().DBConnectionsIdle.Set(float64(stat.IdleConns()))
}

// RecordFindCreated records a posted find
func RecordFindCreated() {
	Get().FindsCreated.Inc()
}

// RecordProposalSubmitted records a submitted proposal
func RecordProposalSubmitted() {
	Get().ProposalsSubmitted.Inc()
}

// RecordContractCreated records a contract created from an accepted proposal
func RecordContractCreated() {
	Get().ContractsCreated.Inc()
}

// RecordPaymentReleased records an escrow release; trigger is "client" or "auto"
func RecordPaymentReleased(trigger string, amount decimal.Decimal) {
	m := Get()
	m.PaymentsReleased.WithLabelValues(trigger).Inc()
	m.PaymentsReleasedSum.Add(amount.InexactFloat64())
}

// RecordTokens records a findertoken movement
func RecordTokens(direction, reason string, amount int) {
	Get().TokensMoved.WithLabelValues(direction, reason).Add(float64(amount))
}

// RecordTokenPurchase records a token package purchase outcome
func RecordTokenPurchase(status string) {
	Get().TokenPurchases.WithLabelValues(status).Inc()
}

// RecordWithdrawal records a withdrawal state change
func RecordWithdrawal(status string) {
	Get().Withdrawals.WithLabelValues(status).Inc()
}

// RecordStrike records an issued strike by consequence level
func RecordStrike(level int) {
	Get().StrikesIssued.WithLabelValues(strconv.Itoa(level)).Inc()
}

// RecordRestriction records an applied restriction
func RecordRestriction(restrictionType string) {
	Get().RestrictionsApplied.WithLabelValues(restrictionType).Inc()
}

// RecordEmail records an email delivery attempt
func RecordEmail(kind, status string) {
	Get().EmailDeliveries.WithLabelValues(kind, status).Inc()
}

// SetCircuitBreakerState sets the circuit breaker state
// state: 0=closed, 1=open, 0.5=half-open
func SetCircuitBreakerState(name string, state float64) {
	Get().CircuitBreakerState.WithLabelValues(name).Set(state)
}

// RecordMaintenanceRun records one scheduler pass
func RecordMaintenanceRun(status string, duration time.Duration) {
	m := Get()
	m.MaintenanceRuns.WithLabelValues(status).Inc()
	m.MaintenanceDuration.Observe(duration.Seconds())
}
