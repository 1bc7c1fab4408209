package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aimerfeng/FinderMeister/internal/config"
	"github.com/aimerfeng/FinderMeister/internal/database"
	"github.com/aimerfeng/FinderMeister/internal/ledger"
	"github.com/aimerfeng/FinderMeister/internal/models"
	"github.com/alexedwards/argon2id"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Service handles authentication operations
type Service struct {
	db     *pgxpool.Pool
	config *config.JWTConfig
	tokens *config.TokenConfig
}

// NewService creates a new auth service
func NewService(db *pgxpool.Pool, jwtCfg *config.JWTConfig, tokenCfg *config.TokenConfig) *Service {
	return &Service{
		db:     db,
		config: jwtCfg,
		tokens: tokenCfg,
	}
}

// Claims represents JWT claims
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// TokenPair represents access and refresh tokens
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	TokenType    string    `json:"token_type"`
}

// RegisterRequest represents a registration request
type RegisterRequest struct {
	Email     string      `json:"email" binding:"required,email"`
	Password  string      `json:"password" binding:"required,min=8"`
	Role      models.Role `json:"role" binding:"required,oneof=client finder"`
	FirstName string      `json:"first_name" binding:"required,max=100"`
	LastName  string      `json:"last_name" binding:"required,max=100"`
	Phone     *string     `json:"phone"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// RefreshRequest represents a token refresh request
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// ChangePasswordRequest represents a password change
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required,min=8"`
}

// UpdateProfileRequest represents a profile update. Nil fields are left unchanged.
type UpdateProfileRequest struct {
	FirstName *string `json:"first_name" binding:"omitempty,min=1,max=100"`
	LastName  *string `json:"last_name" binding:"omitempty,min=1,max=100"`
	Phone     *string `json:"phone" binding:"omitempty,max=50"`
}

// UserResponse represents a user response (without sensitive data)
type UserResponse struct {
	ID          uuid.UUID   `json:"id"`
	Email       string      `json:"email"`
	Role        models.Role `json:"role"`
	FirstName   string      `json:"first_name"`
	LastName    string      `json:"last_name"`
	Phone       *string     `json:"phone,omitempty"`
	IsVerified  bool        `json:"is_verified"`
	IsBanned    bool        `json:"is_banned"`
	StrikeLevel int         `json:"strike_level"`
	CreatedAt   time.Time   `json:"created_at"`
}

// AuthResponse is returned by register and login
type AuthResponse struct {
	User    UserResponse `json:"user"`
	Tokens  TokenPair    `json:"tokens"`
	Message string       `json:"message,omitempty"`
}

const userColumns = `id, email, password_hash, role, first_name, last_name, phone,
	is_verified, is_banned, banned_reason, banned_at, strike_level, created_at, updated_at`

func scanUser(row pgx.Row, user *models.User) error {
	return row.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.Role, &user.FirstName, &user.LastName, &user.Phone,
		&user.IsVerified, &user.IsBanned, &user.BannedReason, &user.BannedAt, &user.StrikeLevel,
		&user.CreatedAt, &user.UpdatedAt,
	)
}

// Register creates a new client or finder account. Finders start with the
// signup findertoken bonus.
func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*AuthResponse, error) {
	if req.Role != models.RoleClient && req.Role != models.RoleFinder {
		return nil, ErrInvalidRole
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	passwordHash, err := argon2id.CreateHash(req.Password, argon2id.DefaultParams)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var user models.User
	err = scanUser(tx.QueryRow(ctx, `
		INSERT INTO users (email, password_hash, role, first_name, last_name, phone)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+userColumns,
		email, passwordHash, req.Role, strings.TrimSpace(req.FirstName), strings.TrimSpace(req.LastName), req.Phone,
	), &user)
	if err != nil {
		if database.IsUniqueViolation(err, "users_email_key") {
			return nil, ErrEmailAlreadyExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	if user.Role == models.RoleFinder {
		var finderID uuid.UUID
		err = tx.QueryRow(ctx, `
			INSERT INTO finders (user_id, current_level_id)
			VALUES ($1, (SELECT id FROM finder_levels ORDER BY sort_order LIMIT 1))
			RETURNING id
		`, user.ID).Scan(&finderID)
		if err != nil {
			return nil, fmt.Errorf("failed to create finder profile: %w", err)
		}

		if s.tokens.SignupBonus > 0 {
			_, err = ledger.CreditTx(ctx, tx, finderID, s.tokens.SignupBonus, models.TokenTxSignupBonus, "Welcome bonus", nil)
			if err != nil {
				return nil, fmt.Errorf("failed to credit signup bonus: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	tokens, err := s.generateTokenPair(&user)
	if err != nil {
		return nil, fmt.Errorf("failed to generate tokens: %w", err)
	}

	return &AuthResponse{
		User:    ToUserResponse(&user),
		Tokens:  *tokens,
		Message: "Registration successful",
	}, nil
}

// Login authenticates a user and returns tokens
func (s *Service) Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))

	var user models.User
	err := scanUser(s.db.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE email = $1", email), &user)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Return generic error to not reveal if email exists
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	match, err := argon2id.ComparePasswordAndHash(req.Password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !match {
		return nil, ErrInvalidCredentials
	}

	if user.IsBanned {
		reason := ""
		if user.BannedReason != nil {
			reason = *user.BannedReason
		}
		return nil, &BannedError{Reason: reason}
	}

	tokens, err := s.generateTokenPair(&user)
	if err != nil {
		return nil, fmt.Errorf("failed to generate tokens: %w", err)
	}

	return &AuthResponse{
		User:   ToUserResponse(&user),
		Tokens: *tokens,
	}, nil
}

// RefreshTokens generates new tokens from a valid refresh token
func (s *Service) RefreshTokens(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.validateToken(refreshToken)
	if err != nil {
		return nil, err
	}
	if claims.Subject != "refresh" {
		return nil, ErrInvalidToken
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, ErrInvalidToken
	}

	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.IsBanned {
		return nil, ErrUserBanned
	}

	// token rotation
	return s.generateTokenPair(user)
}

// ValidateAccessToken validates an access token and returns claims
func (s *Service) ValidateAccessToken(tokenString string) (*Claims, error) {
	claims, err := s.validateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Subject != "access" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// GetUserByID retrieves a user by ID
func (s *Service) GetUserByID(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	var user models.User
	err := scanUser(s.db.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", userID), &user)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &user, nil
}

// ChangePassword replaces the password after verifying the current one
func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, req *ChangePasswordRequest) error {
	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}

	match, err := argon2id.ComparePasswordAndHash(req.CurrentPassword, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("failed to verify password: %w", err)
	}
	if !match {
		return ErrWrongPassword
	}
	if req.CurrentPassword == req.NewPassword {
		return ErrSamePassword
	}

	hash, err := argon2id.CreateHash(req.NewPassword, argon2id.DefaultParams)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	_, err = s.db.Exec(ctx, "UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1", userID, hash)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return nil
}

// UpdateProfile changes the user's name and phone
func (s *Service) UpdateProfile(ctx context.Context, userID uuid.UUID, req *UpdateProfileRequest) (*models.User, error) {
	var user models.User
	err := scanUser(s.db.QueryRow(ctx, `
		UPDATE users SET
			first_name = COALESCE($2, first_name),
			last_name = COALESCE($3, last_name),
			phone = COALESCE($4, phone),
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+userColumns,
		userID, trimPtr(req.FirstName), trimPtr(req.LastName), trimPtr(req.Phone),
	), &user)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return &user, nil
}

func trimPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

// GenerateTokenPair creates access and refresh tokens for a user
func (s *Service) GenerateTokenPair(user *models.User) (*TokenPair, error) {
	return s.generateTokenPair(user)
}

func (s *Service) generateTokenPair(user *models.User) (*TokenPair, error) {
	now := time.Now()
	accessExpiry := now.Add(s.config.AccessTokenExpiry)

	accessToken, err := s.sign(user, "access", now, accessExpiry)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}
	refreshToken, err := s.sign(user, "refresh", now, now.Add(s.config.RefreshTokenExpiry))
	if err != nil {
		return nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    accessExpiry,
		TokenType:    "Bearer",
	}, nil
}

func (s *Service) sign(user *models.User, subject string, now, expiry time.Time) (string, error) {
	claims := &Claims{
		UserID: user.ID.String(),
		Role:   string(user.Role),
		Email:  user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiry),
			ID:        generateJTI(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.Secret))
}

// validateToken parses and validates a JWT token
func (s *Service) validateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.Secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ToUserResponse converts a User to UserResponse
func ToUserResponse(user *models.User) UserResponse {
	return UserResponse{
		ID:          user.ID,
		Email:       user.Email,
		Role:        user.Role,
		FirstName:   user.FirstName,
		LastName:    user.LastName,
		Phone:       user.Phone,
		IsVerified:  user.IsVerified,
		IsBanned:    user.IsBanned,
		StrikeLevel: user.StrikeLevel,
		CreatedAt:   user.CreatedAt,
	}
}

// generateJTI generates a unique JWT ID
func generateJTI() string {
	b := make([]byte, 16)
	rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
