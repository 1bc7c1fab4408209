package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aimerfeng/FinderMeister/internal/auth"
	"github.com/aimerfeng/FinderMeister/internal/config"
	"github.com/aimerfeng/FinderMeister/internal/contracts"
	apierrors "github.com/aimerfeng/FinderMeister/internal/errors"
	"github.com/aimerfeng/FinderMeister/internal/ledger"
	"github.com/aimerfeng/FinderMeister/internal/middleware"
	"github.com/aimerfeng/FinderMeister/internal/models"
	"github.com/aimerfeng/FinderMeister/internal/payment"
	"github.com/aimerfeng/FinderMeister/internal/withdrawal"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-for-jwt-testing-32chars"

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Env: "test", FrontendURL: "http://localhost:3000"},
		JWT: config.JWTConfig{
			Secret:             testSecret,
			AccessTokenExpiry:  15 * time.Minute,
			RefreshTokenExpiry: 7 * 24 * time.Hour,
			Issuer:             "findermeister",
		},
		CORS:        config.CORSConfig{AllowedOrigins: []string{"http://localhost:3000"}},
		RateLimit:   config.RateLimitConfig{Enabled: true, UserLimit: 100, AnonLimit: 20, WindowSeconds: 60},
		Stripe:      config.StripeConfig{WebhookSecret: "whsec_test"},
		Tokens:      config.TokenConfig{ProposalCost: 2, SignupBonus: 5, MonthlyAmount: 5},
		Maintenance: config.MaintenanceConfig{Interval: time.Hour},
	}
}

// newTestServer builds the full router without a database. Only paths that
// are decided before any query runs can be exercised this way.
func newTestServer() *APIServer {
	return NewAPIServer(testConfig(), nil, nil, nil)
}

func createTestJWTToken(userID string, role models.Role, subject string, expiry time.Duration) string {
	now := time.Now()
	claims := &auth.Claims{
		UserID: userID,
		Role:   string(role),
		Email:  "test@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    "findermeister",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, _ := token.SignedString([]byte(testSecret))
	return tokenString
}

func doRequest(h http.Handler, method, path, token string, body []byte) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) apierrors.ErrorResponse {
	t.Helper()
	var resp apierrors.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHealthCheck_NoBackends(t *testing.T) {
	w := doRequest(newTestServer().Router(), http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestProtectedRoutes_RejectWithoutAuth(t *testing.T) {
	router := newTestServer().Router()
	routes := []struct{ method, path string }{
		{http.MethodGet, "/api/auth/me"},
		{http.MethodGet, "/api/finds"},
		{http.MethodPost, "/api/client/finds"},
		{http.MethodGet, "/api/messages/conversations"},
		{http.MethodGet, "/api/admin/users"},
		{http.MethodPost, "/api/withdrawals"},
	}

	for _, r := range routes {
		t.Run(r.method+" "+r.path, func(t *testing.T) {
			w := doRequest(router, r.method, r.path, "", nil)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, apierrors.ErrUnauthorized, decodeError(t, w).Error.Code)
		})
	}
}

func TestProtectedRoutes_RejectBadTokens(t *testing.T) {
	router := newTestServer().Router()
	userID := uuid.New().String()

	t.Run("Expired", func(t *testing.T) {
		token := createTestJWTToken(userID, models.RoleFinder, "access", -time.Hour)
		w := doRequest(router, http.MethodGet, "/api/auth/me", token, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, apierrors.ErrTokenExpired, decodeError(t, w).Error.Code)
	})

	t.Run("RefreshTokenAsAccess", func(t *testing.T) {
		token := createTestJWTToken(userID, models.RoleFinder, "refresh", 15*time.Minute)
		w := doRequest(router, http.MethodGet, "/api/auth/me", token, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Garbage", func(t *testing.T) {
		w := doRequest(router, http.MethodGet, "/api/auth/me", "not.a.jwt", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("NotBearer", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestRoleGates(t *testing.T) {
	router := newTestServer().Router()
	userID := uuid.New().String()
	client := createTestJWTToken(userID, models.RoleClient, "access", 15*time.Minute)
	finder := createTestJWTToken(userID, models.RoleFinder, "access", 15*time.Minute)

	cases := []struct {
		name, method, path, token string
	}{
		{"FinderOnAdmin", http.MethodGet, "/api/admin/users", finder},
		{"ClientOnAdmin", http.MethodGet, "/api/admin/withdrawals", client},
		{"ClientBrowsingFinds", http.MethodGet, "/api/finds", client},
		{"ClientWithdrawing", http.MethodPost, "/api/withdrawals", client},
		{"FinderPostingFind", http.MethodPost, "/api/client/finds", finder},
		{"FinderAcceptingProposal", http.MethodPost, "/api/proposals/" + uuid.NewString() + "/accept", finder},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doRequest(router, tc.method, tc.path, tc.token, nil)
			assert.Equal(t, http.StatusForbidden, w.Code)
		})
	}
}

func TestValidation_BeforeStorage(t *testing.T) {
	router := newTestServer().Router()

	t.Run("RegisterMissingFields", func(t *testing.T) {
		w := doRequest(router, http.MethodPost, "/api/auth/register", "", []byte(`{"email":"x@example.com"}`))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, apierrors.ErrValidationFailed, decodeError(t, w).Error.Code)
	})

	t.Run("RegisterAdminRole", func(t *testing.T) {
		body := []byte(`{"email":"x@example.com","password":"longenough","role":"admin","first_name":"A","last_name":"B"}`)
		w := doRequest(router, http.MethodPost, "/api/auth/register", "", body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("LoginBadJSON", func(t *testing.T) {
		w := doRequest(router, http.MethodPost, "/api/auth/login", "", []byte(`{`))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("BadPathID", func(t *testing.T) {
		client := createTestJWTToken(uuid.NewString(), models.RoleClient, "access", 15*time.Minute)
		w := doRequest(router, http.MethodPost, "/api/proposals/not-a-uuid/accept", client, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, apierrors.ErrInvalidRequest, decodeError(t, w).Error.Code)
	})

	t.Run("StrikesOfAnotherUser", func(t *testing.T) {
		finder := createTestJWTToken(uuid.NewString(), models.RoleFinder, "access", 15*time.Minute)
		w := doRequest(router, http.MethodGet, "/api/users/"+uuid.NewString()+"/strikes", finder, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestListOffenses(t *testing.T) {
	router := newTestServer().Router()

	for _, role := range []models.Role{models.RoleClient, models.RoleFinder} {
		w := doRequest(router, http.MethodGet, "/api/offenses/"+string(role), "", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var body struct {
			Role     string            `json:"role"`
			Offenses []json.RawMessage `json:"offenses"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, string(role), body.Role)
		assert.NotEmpty(t, body.Offenses)
	}

	w := doRequest(router, http.MethodGet, "/api/offenses/admin", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStripeWebhook_BadSignature(t *testing.T) {
	router := newTestServer().Router()

	req := httptest.NewRequest(http.MethodPost, "/api/payments/webhook/stripe", bytes.NewReader([]byte(`{"type":"checkout.session.completed"}`)))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRequestID(t *testing.T) {
	router := newTestServer().Router()

	t.Run("Generated", func(t *testing.T) {
		w := doRequest(router, http.MethodGet, "/health", "", nil)
		id := w.Header().Get("X-Request-ID")
		require.NotEmpty(t, id)
		_, err := uuid.Parse(id)
		assert.NoError(t, err)
		assert.Equal(t, id, w.Header().Get("X-Correlation-ID"))
	})

	t.Run("Preserved", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
		req.Header.Set("X-Request-ID", "req-123")
		req.Header.Set("X-Correlation-ID", "corr-456")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))
		resp := decodeError(t, w)
		assert.Equal(t, "req-123", resp.RequestID)
		assert.Equal(t, "corr-456", resp.CorrelationID)
	})
}

func TestValidateAccessToken(t *testing.T) {
	authenticator := middleware.NewJWTAuthenticator(&testConfig().JWT)
	userID := uuid.New().String()

	t.Run("Valid", func(t *testing.T) {
		claims, err := authenticator.ValidateAccessToken(createTestJWTToken(userID, models.RoleClient, "access", 15*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, userID, claims.UserID)
		assert.Equal(t, string(models.RoleClient), claims.Role)
	})

	t.Run("Expired", func(t *testing.T) {
		_, err := authenticator.ValidateAccessToken(createTestJWTToken(userID, models.RoleClient, "access", -time.Minute))
		assert.ErrorIs(t, err, middleware.ErrTokenExpired)
	})

	t.Run("RefreshSubject", func(t *testing.T) {
		_, err := authenticator.ValidateAccessToken(createTestJWTToken(userID, models.RoleClient, "refresh", 15*time.Minute))
		assert.ErrorIs(t, err, middleware.ErrInvalidToken)
	})

	t.Run("NonUUIDUser", func(t *testing.T) {
		_, err := authenticator.ValidateAccessToken(createTestJWTToken("user-123", models.RoleClient, "access", 15*time.Minute))
		assert.ErrorIs(t, err, middleware.ErrInvalidToken)
	})

	t.Run("WrongSecret", func(t *testing.T) {
		other := middleware.NewJWTAuthenticator(&config.JWTConfig{Secret: "another-secret-another-secret-32"})
		_, err := other.ValidateAccessToken(createTestJWTToken(userID, models.RoleClient, "access", 15*time.Minute))
		assert.ErrorIs(t, err, middleware.ErrInvalidToken)
	})
}

func TestToAPIError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"PassThrough", apierrors.NewConflictError("taken"), http.StatusConflict},
		{"Banned", &auth.BannedError{Reason: "spam"}, http.StatusForbidden},
		{"Credentials", auth.ErrInvalidCredentials, http.StatusUnauthorized},
		{"DuplicateEmail", auth.ErrEmailAlreadyExists, http.StatusBadRequest},
		{"InsufficientTokens", fmt.Errorf("submit: %w", ledger.ErrInsufficientTokens), http.StatusBadRequest},
		{"ContractNotFound", contracts.ErrContractNotFound, http.StatusNotFound},
		{"AlreadyReleased", contracts.ErrAlreadyReleased, http.StatusConflict},
		{"NotParticipant", contracts.ErrNotParticipant, http.StatusForbidden},
		{"WithdrawalNotPending", withdrawal.ErrWithdrawalNotPending, http.StatusBadRequest},
		{"StripeDisabled", payment.ErrStripeDisabled, http.StatusServiceUnavailable},
		{"Unknown", errors.New("connection reset"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.status, toAPIError(tc.err).HTTPStatus)
		})
	}

	banned := toAPIError(&auth.BannedError{Reason: "spam"})
	assert.Equal(t, map[string]string{"reason": "spam"}, banned.Details)
	assert.Equal(t, "Internal server error", toAPIError(errors.New("secret detail")).Message)
}
