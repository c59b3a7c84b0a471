package service

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/calcore/internal/models"
	"github.com/noah-isme/calcore/internal/repository"
	"github.com/noah-isme/calcore/pkg/config"
	appErrors "github.com/noah-isme/calcore/pkg/errors"
)

// Claims is the JWT payload issued on login.
type Claims struct {
	Href  string `json:"href"`
	Admin bool   `json:"admin"`
	jwt.RegisteredClaims
}

// PrincipalService handles account registration, credential checks and token
// issuance. It runs outside a calendar session and talks to the store
// directly.
type PrincipalService struct {
	db     *sqlx.DB
	cfg    config.JWTConfig
	logger *zap.Logger
}

// NewPrincipalService constructs the principal service.
func NewPrincipalService(db *sqlx.DB, cfg config.JWTConfig, logger *zap.Logger) *PrincipalService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PrincipalService{db: db, cfg: cfg, logger: logger}
}

// Register creates an account with a bcrypt-hashed password and an href
// derived from the email's local part.
func (s *PrincipalService) Register(ctx context.Context, email, displayName, password string) (*models.Principal, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, appErrors.Clone(appErrors.ErrValidation, "valid email is required")
	}
	if len(password) < 8 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "hash password")
	}

	local := email[:strings.Index(email, "@")]
	p := &models.Principal{
		Href:         "/principals/" + local,
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: string(hash),
		Active:       true,
	}
	if err := repository.NewPrincipalRepository(s.db).Create(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info("principal registered", zap.String("href", p.Href))
	return p, nil
}

// Login verifies credentials and issues a signed token.
func (s *PrincipalService) Login(ctx context.Context, email, password string) (string, *models.Principal, error) {
	p, err := repository.NewPrincipalRepository(s.db).GetByEmail(ctx, email)
	if err != nil {
		return "", nil, err
	}
	if !p.Active {
		return "", nil, appErrors.Clone(appErrors.ErrUnauthorized, "account is disabled")
	}
	if bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(password)) != nil {
		return "", nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
	}

	token, err := s.issueToken(p)
	if err != nil {
		return "", nil, err
	}
	return token, p, nil
}

func (s *PrincipalService) issueToken(p *models.Principal) (string, error) {
	now := time.Now()
	claims := Claims{
		Href:  p.Href,
		Admin: p.Admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.Expiration)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "sign token")
	}
	return token, nil
}

// ParseToken validates a token and returns its claims.
func (s *PrincipalService) ParseToken(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "unexpected signing method")
		}
		return []byte(s.cfg.Secret), nil
	})
	if err != nil || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return claims, nil
}

// Preferences returns a principal's calendar settings.
func (s *PrincipalService) Preferences(ctx context.Context, href string) (*models.Preference, error) {
	return repository.NewPreferenceRepository(s.db).Get(ctx, href)
}

// SavePreferences upserts a principal's calendar settings.
func (s *PrincipalService) SavePreferences(ctx context.Context, pref *models.Preference) error {
	if pref.Timezone == "" {
		pref.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(pref.Timezone); err != nil {
		return appErrors.Clone(appErrors.ErrValidation, "unknown timezone: "+pref.Timezone)
	}
	return repository.NewPreferenceRepository(s.db).Upsert(ctx, pref)
}
