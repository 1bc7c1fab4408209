package logging

import (
	"io"
	"os"
	"time"

	"github.com/aimerfeng/FinderMeister/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Setup initializes the global logger based on configuration
func Setup(cfg *config.LoggingConfig, env, service string) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var output io.Writer
	if cfg.Format == "json" || env == "production" {
		output = os.Stdout
	} else {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
	}

	log.Logger = zerolog.New(output).
		With().
		Timestamp().
		Str("service", service).
		Logger()
}

// NewLogger creates a new logger with additional context
func NewLogger(component string) zerolog.Logger {
	return log.Logger.With().Str("component", component).Logger()
}

// RequestLogger logs one line per request with the route template, never the raw query
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		var event *zerolog.Event
		switch {
		case status >= 500:
			event = log.Error()
		case status >= 400:
			event = log.Warn()
		default:
			event = log.Info()
		}

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		event.
			Str("request_id", c.GetString("request_id")).
			Str("correlation_id", c.GetString("correlation_id")).
			Str("user_id", c.GetString("user_id")).
			Str("role", c.GetString("role")).
			Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("HTTP request")
	}
}

// LogStrike logs a strike issuance decision
func LogStrike(userID, offenseType string, strikeLevel, consequenceLevel int, noop bool) {
	event := log.Warn()
	if noop {
		event = log.Info()
	}
	event.
		Str("user_id", userID).
		Str("offense_type", offenseType).
		Int("strike_level", strikeLevel).
		Int("consequence_level", consequenceLevel).
		Bool("noop", noop).
		Msg("Strike event")
}

// LogLedger logs a findertoken balance change
func LogLedger(finderID, txType string, amount, balanceAfter int) {
	log.Info().
		Str("finder_id", finderID).
		Str("type", txType).
		Int("amount", amount).
		Int("balance_after", balanceAfter).
		Msg("Token ledger event")
}

// LogContractEvent logs a contract lifecycle transition
func LogContractEvent(contractID, event, actorID string) {
	log.Info().
		Str("contract_id", contractID).
		Str("event", event).
		Str("actor_id", actorID).
		Msg("Contract event")
}

// LogPayment logs a payment event
func LogPayment(userID, paymentID, method, status string, amount decimal.Decimal) {
	log.Info().
		Str("user_id", userID).
		Str("payment_id", paymentID).
		Str("method", method).
		Str("status", status).
		Str("amount", amount.StringFixed(2)).
		Msg("Payment event")
}

// LogSecurityEvent logs security-related events
func LogSecurityEvent(eventType, userID, clientIP, details string) {
	log.Warn().
		Str("event_type", eventType).
		Str("user_id", userID).
		Str("client_ip", clientIP).
		Str("details", details).
		Msg("Security event")
}

// LogError logs an error with context
func LogError(err error, requestID, component, operation string) {
	log.Error().
		Err(err).
		Str("request_id", requestID).
		Str("component", component).
		Str("operation", operation).
		Msg("Error occurred")
}

// SanitizeForLog truncates free text before it reaches the log
func SanitizeForLog(data string, maxLen int) string {
	if len(data) > maxLen {
		return data[:maxLen] + "...[truncated]"
	}
	return data
}
