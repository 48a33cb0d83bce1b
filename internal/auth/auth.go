// Package auth handles administrator accounts and login sessions. A login
// creates a server-side session in Redis and hands the client a signed
// token that carries the session id.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"apk-portal/internal/apperr"
	"apk-portal/internal/models"
	"apk-portal/internal/redis"
)

// CookieName is the session cookie set on login
const CookieName = "portal_session"

const issuer = "apk-portal"

// Claims are carried by the session token
type Claims struct {
	SessionID string `json:"sid"`
	AdminID   uint   `json:"uid"`
	jwt.RegisteredClaims
}

// Principal is an authenticated administrator. ExpiresAt is the expiry of
// the token it was authenticated with.
type Principal struct {
	Admin     *models.AdminUser
	SessionID string
	ExpiresAt time.Time
}

// Service authenticates administrators
type Service struct {
	db       *gorm.DB
	sessions *redis.SessionStore
	secret   []byte
	maxAge   time.Duration
	log      *slog.Logger
}

// NewService creates a Service signing tokens with secret. Tokens and
// sessions are valid for maxAge; the session side slides on every request.
func NewService(db *gorm.DB, sessions *redis.SessionStore, secret string, maxAge time.Duration, log *slog.Logger) *Service {
	return &Service{
		db:       db,
		sessions: sessions,
		secret:   []byte(secret),
		maxAge:   maxAge,
		log:      log.With("component", "auth"),
	}
}

// HashPassword hashes a plain password with bcrypt
func HashPassword(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether plain matches hash
func CheckPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// Login verifies credentials, opens a session and returns its token
func (s *Service) Login(ctx context.Context, username, password string) (string, *models.AdminUser, error) {
	var admin models.AdminUser
	err := s.db.WithContext(ctx).Where("username = ?", strings.TrimSpace(username)).Take(&admin).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil, fmt.Errorf("failed to load admin: %w", err)
	}
	if err != nil || !CheckPassword(admin.PasswordHash, password) {
		return "", nil, apperr.Unauthorized("auth.Login", "invalid username or password")
	}

	sess, err := s.sessions.Create(ctx, admin.ID)
	if err != nil {
		return "", nil, err
	}

	token, err := s.issue(sess)
	if err != nil {
		return "", nil, err
	}

	s.log.Info("admin logged in", "admin_id", admin.ID, "username", admin.Username)
	return token, &admin, nil
}

// Logout ends the session and anything staged in it
func (s *Service) Logout(ctx context.Context, sid string) error {
	return s.sessions.Destroy(ctx, sid)
}

// Authenticate resolves a session token to its administrator and slides
// the session's expiry.
func (s *Service) Authenticate(ctx context.Context, token string) (*Principal, error) {
	claims, err := s.parse(token)
	if err != nil {
		return nil, err
	}

	sess, err := s.sessions.Touch(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}
	if sess.AdminID != claims.AdminID {
		return nil, apperr.Unauthorized("auth.Authenticate", "session does not match token")
	}

	var admin models.AdminUser
	err = s.db.WithContext(ctx).First(&admin, sess.AdminID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Unauthorized("auth.Authenticate", "admin no longer exists")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load admin: %w", err)
	}

	p := &Principal{Admin: &admin, SessionID: sess.ID}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	return p, nil
}

// Renew issues a fresh token for p's session once less than half of the
// current token's lifetime is left.
func (s *Service) Renew(p *Principal) (string, bool, error) {
	if p.ExpiresAt.IsZero() || time.Until(p.ExpiresAt) > s.maxAge/2 {
		return "", false, nil
	}

	token, err := s.sign(p.SessionID, p.Admin.ID, time.Now())
	if err != nil {
		return "", false, err
	}
	s.log.Debug("session token renewed", "admin_id", p.Admin.ID, "session_id", p.SessionID)
	return token, true, nil
}

// MaxAge is the lifetime of a session token
func (s *Service) MaxAge() time.Duration {
	return s.maxAge
}

func (s *Service) issue(sess *redis.Session) (string, error) {
	return s.sign(sess.ID, sess.AdminID, time.Now())
}

func (s *Service) sign(sid string, adminID uint, now time.Time) (string, error) {
	claims := Claims{
		SessionID: sid,
		AdminID:   adminID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.maxAge)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

func (s *Service) parse(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, apperr.Unauthorized("auth", "login required")
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
	if err != nil || !token.Valid {
		return nil, apperr.Unauthorized("auth", "invalid or expired session token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || claims.SessionID == "" {
		return nil, apperr.Unauthorized("auth", "invalid session token claims")
	}
	return claims, nil
}

// BootstrapAdmin creates the first administrator when none exists yet.
// It reports whether an account was created.
func BootstrapAdmin(ctx context.Context, db *gorm.DB, username, password string) (bool, error) {
	var n int64
	if err := db.WithContext(ctx).Model(&models.AdminUser{}).Count(&n).Error; err != nil {
		return false, fmt.Errorf("failed to count admins: %w", err)
	}
	if n > 0 {
		return false, nil
	}

	if _, err := CreateOrResetAdmin(ctx, db, username, password); err != nil {
		return false, err
	}
	return true, nil
}

// CreateOrResetAdmin creates an administrator or resets the password of an
// existing one. It reports whether a new account was created.
func CreateOrResetAdmin(ctx context.Context, db *gorm.DB, username, password string) (bool, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return false, apperr.Validation("auth", "username is required")
	}
	if len(password) < 8 {
		return false, apperr.Validation("auth", "password must be at least 8 characters")
	}

	hash, err := HashPassword(password)
	if err != nil {
		return false, err
	}

	var admin models.AdminUser
	err = db.WithContext(ctx).Where("username = ?", username).Take(&admin).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		admin = models.AdminUser{Username: username, PasswordHash: hash}
		if err := db.WithContext(ctx).Create(&admin).Error; err != nil {
			return false, fmt.Errorf("failed to create admin: %w", err)
		}
		return true, nil
	case err != nil:
		return false, fmt.Errorf("failed to load admin: %w", err)
	}

	if err := db.WithContext(ctx).Model(&admin).Update("password_hash", hash).Error; err != nil {
		return false, fmt.Errorf("failed to reset password: %w", err)
	}
	return false, nil
}
