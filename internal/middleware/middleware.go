package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/aimerfeng/FinderMeister/internal/auth"
	"github.com/aimerfeng/FinderMeister/internal/cache"
	"github.com/aimerfeng/FinderMeister/internal/config"
	apierrors "github.com/aimerfeng/FinderMeister/internal/errors"
	"github.com/aimerfeng/FinderMeister/internal/models"
	"github.com/aimerfeng/FinderMeister/internal/monitoring"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Context keys for storing user information
const (
	ContextKeyUserID        = "user_id"
	ContextKeyRole          = "role"
	ContextKeyEmail         = "email"
	ContextKeyClaims        = "claims"
	ContextKeyRequestID     = "request_id"
	ContextKeyCorrelationID = "correlation_id"
)

// JWT validation errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// JWTAuthenticator handles JWT token validation
type JWTAuthenticator struct {
	config *config.JWTConfig
}

// NewJWTAuthenticator creates a new JWT authenticator
func NewJWTAuthenticator(cfg *config.JWTConfig) *JWTAuthenticator {
	return &JWTAuthenticator{config: cfg}
}

// JWTAuth validates the Bearer token and stores the caller in the context
func (j *JWTAuthenticator) JWTAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			respondWithError(c, apierrors.ErrUnauthorizedError)
			c.Abort()
			return
		}

		tokenString, err := extractBearerToken(authHeader)
		if err != nil {
			respondWithError(c, apierrors.ErrUnauthorizedError)
			c.Abort()
			return
		}

		claims, err := j.ValidateAccessToken(tokenString)
		if err != nil {
			if errors.Is(err, ErrTokenExpired) {
				respondWithError(c, apierrors.ErrTokenExpiredError)
			} else {
				respondWithError(c, apierrors.ErrInvalidCredentialsError)
			}
			c.Abort()
			return
		}

		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeyRole, claims.Role)
		c.Set(ContextKeyEmail, claims.Email)
		c.Set(ContextKeyClaims, claims)

		c.Next()
	}
}

// ValidateAccessToken validates an access token and returns claims
func (j *JWTAuthenticator) ValidateAccessToken(tokenString string) (*auth.Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &auth.Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(j.config.Secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*auth.Claims)
	if !ok || !token.Valid || claims.Subject != "access" {
		return nil, ErrInvalidToken
	}
	if _, err := uuid.Parse(claims.UserID); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func extractBearerToken(authHeader string) (string, error) {
	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(authHeader, bearerPrefix) || len(authHeader) == len(bearerPrefix) {
		return "", ErrInvalidToken
	}
	return authHeader[len(bearerPrefix):], nil
}

// respondWithError sends a standardized error response
func respondWithError(c *gin.Context, err *apierrors.APIError) {
	response := apierrors.NewErrorResponse(
		err,
		c.GetString(ContextKeyRequestID),
		c.GetString(ContextKeyCorrelationID),
		c.Request.URL.Path,
		c.Request.Method,
	)
	c.JSON(err.HTTPStatus, response)
}

// RequireRole rejects callers whose role is not in allowedRoles.
// Must run after JWTAuth.
func RequireRole(allowedRoles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := GetRoleFromContext(c)
		if role == "" {
			respondWithError(c, apierrors.ErrForbiddenError)
			c.Abort()
			return
		}

		for _, allowed := range allowedRoles {
			if role == allowed {
				c.Next()
				return
			}
		}

		respondWithError(c, apierrors.NewForbiddenError(fmt.Sprintf("Access denied. Required role: %v", allowedRoles)))
		c.Abort()
	}
}

// RequireClient requires the client role
func RequireClient() gin.HandlerFunc {
	return RequireRole(models.RoleClient)
}

// RequireFinder requires the finder role
func RequireFinder() gin.HandlerFunc {
	return RequireRole(models.RoleFinder)
}

// RequireAdmin requires the admin role
func RequireAdmin() gin.HandlerFunc {
	return RequireRole(models.RoleAdmin)
}

// CapabilityChecker reports whether a user may currently use a capability
type CapabilityChecker interface {
	Can(ctx context.Context, userID uuid.UUID, capability models.Capability) (bool, error)
}

// RequireCapability blocks restricted users from a capability.
// Admins are never restricted.
func RequireCapability(checker CapabilityChecker, capability models.Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetRoleFromContext(c) == models.RoleAdmin {
			c.Next()
			return
		}

		userID, ok := GetUserUUID(c)
		if !ok {
			respondWithError(c, apierrors.ErrUnauthorizedError)
			c.Abort()
			return
		}

		allowed, err := checker.Can(c.Request.Context(), userID, capability)
		if err != nil {
			log.Error().Err(err).Str("user_id", userID.String()).Str("capability", string(capability)).Msg("Failed to check restrictions")
			respondWithError(c, apierrors.ErrInternalServerError)
			c.Abort()
			return
		}
		if !allowed {
			respondWithError(c, apierrors.ErrAccountRestrictedError.WithDetails(map[string]string{"capability": string(capability)}))
			c.Abort()
			return
		}

		c.Next()
	}
}

// RateLimit applies the sliding-window limiter per user, or per client IP
// for anonymous callers. A nil limiter disables limiting.
func RateLimit(limiter *cache.RateLimiter, cfg *config.RateLimitConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil || !cfg.Enabled {
			c.Next()
			return
		}

		key := "ip:" + c.ClientIP()
		limit := cfg.AnonLimit
		caller := "anonymous"
		if userID := GetUserIDFromContext(c); userID != "" {
			key = "user:" + userID
			limit = cfg.UserLimit
			caller = "user"
		}

		result, err := limiter.Check(c.Request.Context(), key, limit)
		if err != nil {
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

		if !result.Allowed {
			retryAfter := int64(result.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			monitoring.RecordRateLimitHit(caller)
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
			respondWithError(c, apierrors.NewRateLimitError(retryAfter))
			c.Abort()
			return
		}

		c.Next()
	}
}

// GetUserIDFromContext returns the caller's user id, or "" if unauthenticated
func GetUserIDFromContext(c *gin.Context) string {
	return c.GetString(ContextKeyUserID)
}

// GetUserUUID returns the caller's user id parsed as a UUID
func GetUserUUID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(GetUserIDFromContext(c))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// GetRoleFromContext returns the caller's role, or "" if unauthenticated
func GetRoleFromContext(c *gin.Context) models.Role {
	return models.Role(c.GetString(ContextKeyRole))
}

// GetEmailFromContext returns the caller's email
func GetEmailFromContext(c *gin.Context) string {
	return c.GetString(ContextKeyEmail)
}

// GetClaimsFromContext returns the full claims, or nil if not found
func GetClaimsFromContext(c *gin.Context) *auth.Claims {
	claims, exists := c.Get(ContextKeyClaims)
	if !exists {
		return nil
	}
	return claims.(*auth.Claims)
}

// RequestID adds a unique request ID to each request
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set(ContextKeyRequestID, requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// CorrelationID propagates X-Correlation-ID from upstream, falling back to
// the request ID
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = c.GetString(ContextKeyRequestID)
			if correlationID == "" {
				correlationID = uuid.New().String()
			}
		}
		c.Set(ContextKeyCorrelationID, correlationID)
		c.Header("X-Correlation-ID", correlationID)
		c.Next()
	}
}

// GetCorrelationIDFromContext returns the correlation ID
func GetCorrelationIDFromContext(c *gin.Context) string {
	return c.GetString(ContextKeyCorrelationID)
}

// GetRequestIDFromContext returns the request ID
func GetRequestIDFromContext(c *gin.Context) string {
	return c.GetString(ContextKeyRequestID)
}

// CORS configures CORS headers
func CORS(allowedOrigins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		allowed := false
		for _, o := range allowedOrigins {
			if o == origin || o == "*" {
				allowed = true
				break
			}
		}

		if allowed && origin != "" {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID, X-Correlation-ID")
			c.Header("Access-Control-Expose-Headers", "X-Request-ID, X-Correlation-ID, X-RateLimit-Remaining, Retry-After")
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Max-Age", "43200") // 12 hours
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
