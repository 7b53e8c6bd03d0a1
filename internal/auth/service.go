package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/aoi-nmz/backend-club/internal/common"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 24 * time.Hour
)

// Staff roles recognised by the platform.
const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleStaff   = "staff"
)

// Service coordinates staff authentication and refresh-token persistence.
type Service struct {
	store      Store
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	signer     jwa.SignatureAlgorithm
	validator  TokenValidator
	issuer     string
	audience   string
	clockSkew  time.Duration
}

// Config configures the auth service.
type Config struct {
	Store           Store
	Secret          string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	Issuer          string
	Audience        string
	ClockSkew       time.Duration
}

// Staff is the safe subset of the staff model returned to clients.
type Staff struct {
	ID        string    `json:"id"`
	StoreID   string    `json:"storeId"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Roles     []string  `json:"roles"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Identity is the result of validating an access token.
type Identity struct {
	StaffID string
	StoreID string
	Roles   []string
}

// LoginResult bundles token material returned after a successful login.
type LoginResult struct {
	Staff         Staff     `json:"staff"`
	AccessToken   string    `json:"accessToken"`
	RefreshToken  string    `json:"refreshToken"`
	AccessExpiry  time.Time `json:"accessExpiresAt"`
	RefreshExpiry time.Time `json:"refreshExpiresAt"`
}

// RefreshResult represents the outcome of a refresh operation.
type RefreshResult struct {
	AccessToken   string    `json:"accessToken"`
	AccessExpiry  time.Time `json:"accessExpiresAt"`
	RefreshToken  string    `json:"refreshToken"`
	RefreshExpiry time.Time `json:"refreshExpiresAt"`
}

// NewService constructs a Service instance with sane defaults.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("auth: store is required")
	}
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errors.New("auth: secret is required")
	}
	accessTTL := cfg.AccessTokenTTL
	if accessTTL <= 0 {
		accessTTL = defaultAccessTTL
	}
	refreshTTL := cfg.RefreshTokenTTL
	if refreshTTL <= 0 {
		refreshTTL = defaultRefreshTTL
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = "backend-club"
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		audience = "club-console"
	}
	clockSkew := cfg.ClockSkew
	if clockSkew < 0 {
		clockSkew = 0
	}
	return &Service{
		store:      cfg.Store,
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
		signer:     jwa.HS256,
		validator: TokenValidator{
			Issuer:    issuer,
			Audience:  audience,
			ClockSkew: clockSkew,
			Algorithm: jwa.HS256,
		},
		issuer:    issuer,
		audience:  audience,
		clockSkew: clockSkew,
	}, nil
}

// WithNow allows tests to override the time provider.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateStaff registers a new staff account for the given store. Only admins
// may call this; the handler enforces the role.
func (s *Service) CreateStaff(ctx context.Context, storeID uuid.UUID, name, email, password string, roles []string) (Staff, error) {
	if strings.TrimSpace(name) == "" {
		return Staff{}, common.NewAppError("VALIDATION_ERROR", "name is required", http.StatusBadRequest, nil)
	}
	normalizedEmail := strings.TrimSpace(strings.ToLower(email))
	if normalizedEmail == "" {
		return Staff{}, common.NewAppError("VALIDATION_ERROR", "email is required", http.StatusBadRequest, nil)
	}
	if len(password) < 8 {
		return Staff{}, common.NewAppError("VALIDATION_ERROR", "password must be at least 8 characters", http.StatusBadRequest, nil)
	}
	if len(roles) == 0 {
		roles = []string{RoleStaff}
	}

	hash, err := argon2id.CreateHash(password, argon2id.DefaultParams)
	if err != nil {
		return Staff{}, fmt.Errorf("hash password: %w", err)
	}
	created, err := s.store.CreateStaff(ctx, StaffRecord{
		StoreID:      storeID,
		Name:         strings.TrimSpace(name),
		Email:        normalizedEmail,
		PasswordHash: hash,
		Roles:        roles,
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Staff{}, common.NewAppError("EMAIL_ALREADY_USED", "email is already registered", http.StatusConflict, err)
		}
		return Staff{}, fmt.Errorf("create staff: %w", err)
	}
	return toStaff(created), nil
}

// Login verifies credentials and issues a new JWT/refresh token pair.
func (s *Service) Login(ctx context.Context, storeID uuid.UUID, email, password, userAgent, ip string) (LoginResult, error) {
	normalizedEmail := strings.TrimSpace(strings.ToLower(email))
	if normalizedEmail == "" || password == "" {
		return LoginResult{}, invalidCredentials()
	}
	rec, err := s.store.GetStaffByEmail(ctx, storeID, normalizedEmail)
	if err != nil {
		return LoginResult{}, invalidCredentials()
	}
	ok, err := argon2id.ComparePasswordAndHash(password, rec.PasswordHash)
	if err != nil || !ok {
		return LoginResult{}, invalidCredentials()
	}

	accessToken, accessExpiry, err := s.signAccessToken(rec)
	if err != nil {
		return LoginResult{}, fmt.Errorf("sign access token: %w", err)
	}
	refreshToken, refreshExpiry, err := s.createSession(ctx, rec.ID, userAgent, ip)
	if err != nil {
		return LoginResult{}, fmt.Errorf("create session: %w", err)
	}
	return LoginResult{
		Staff:         toStaff(rec),
		AccessToken:   accessToken,
		RefreshToken:  refreshToken,
		AccessExpiry:  accessExpiry,
		RefreshExpiry: refreshExpiry,
	}, nil
}

// Logout revokes the refresh token.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	token := strings.TrimSpace(refreshToken)
	if token == "" {
		return nil
	}
	return s.store.DeleteSessionByToken(ctx, hashRefreshToken(token))
}

// Refresh validates and rotates a refresh token, issuing a fresh token pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (RefreshResult, error) {
	token := strings.TrimSpace(refreshToken)
	if token == "" {
		return RefreshResult{}, invalidRefresh()
	}
	hashed := hashRefreshToken(token)
	session, err := s.store.GetSessionByToken(ctx, hashed)
	if err != nil {
		return RefreshResult{}, invalidRefresh()
	}
	if s.now().After(session.ExpiresAt) {
		_ = s.store.DeleteSessionByToken(ctx, hashed)
		return RefreshResult{}, invalidRefresh()
	}
	rec, err := s.store.GetStaffByID(ctx, session.StaffID)
	if err != nil {
		_ = s.store.DeleteSessionByToken(ctx, hashed)
		return RefreshResult{}, invalidRefresh()
	}

	accessToken, accessExpiry, err := s.signAccessToken(rec)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("sign access token: %w", err)
	}
	newToken, newHashed, refreshExpiry, err := s.newRefreshToken()
	if err != nil {
		return RefreshResult{}, fmt.Errorf("generate refresh token: %w", err)
	}
	if err := s.store.RotateSessionToken(ctx, session.ID, newHashed, refreshExpiry); err != nil {
		_ = s.store.DeleteSessionByToken(ctx, hashed)
		return RefreshResult{}, fmt.Errorf("rotate session token: %w", err)
	}
	return RefreshResult{
		AccessToken:   accessToken,
		AccessExpiry:  accessExpiry,
		RefreshToken:  newToken,
		RefreshExpiry: refreshExpiry,
	}, nil
}

// Me fetches the current authenticated staff member.
func (s *Service) Me(ctx context.Context, staffID string) (Staff, error) {
	id, err := uuid.Parse(strings.TrimSpace(staffID))
	if err != nil {
		return Staff{}, unauthorized()
	}
	rec, err := s.store.GetStaffByID(ctx, id)
	if err != nil {
		return Staff{}, unauthorized()
	}
	return toStaff(rec), nil
}

// ParseAccessToken validates an access token and returns the staff identity.
func (s *Service) ParseAccessToken(token string) (Identity, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return Identity{}, common.NewAppError("UNAUTHORIZED", "missing token", http.StatusUnauthorized, nil)
	}
	algorithm, err := extractTokenAlgorithm(trimmed)
	if err != nil {
		return Identity{}, common.NewAppError("UNAUTHORIZED", "invalid token", http.StatusUnauthorized, err)
	}
	if s.validator.Algorithm != "" && algorithm != s.validator.Algorithm {
		return Identity{}, common.NewAppError("UNAUTHORIZED", "invalid token", http.StatusUnauthorized, fmt.Errorf("unexpected token algorithm %s", algorithm))
	}
	parsed, err := jwt.ParseString(trimmed, jwt.WithKey(algorithm, s.secret))
	if err != nil {
		return Identity{}, common.NewAppError("UNAUTHORIZED", "invalid token", http.StatusUnauthorized, err)
	}
	if err := s.validator.Validate(parsed, algorithm, s.now()); err != nil {
		return Identity{}, common.NewAppError("UNAUTHORIZED", "invalid token", http.StatusUnauthorized, err)
	}
	identity := Identity{StaffID: parsed.Subject()}
	if v, ok := parsed.Get("store"); ok {
		if str, ok := v.(string); ok {
			identity.StoreID = str
		}
	}
	if v, ok := parsed.Get("roles"); ok {
		switch roles := v.(type) {
		case []string:
			identity.Roles = roles
		case []any:
			for _, r := range roles {
				if str, ok := r.(string); ok {
					identity.Roles = append(identity.Roles, str)
				}
			}
		}
	}
	return identity, nil
}

func extractTokenAlgorithm(token string) (jwa.SignatureAlgorithm, error) {
	message, err := jws.ParseString(token)
	if err != nil {
		return "", err
	}
	signatures := message.Signatures()
	if len(signatures) == 0 {
		return "", errors.New("auth: token contains no signatures")
	}
	var algorithm jwa.SignatureAlgorithm
	for _, sig := range signatures {
		headers := sig.ProtectedHeaders()
		if headers == nil {
			return "", errors.New("auth: token missing protected headers")
		}
		alg := headers.Algorithm()
		if alg == "" {
			return "", errors.New("auth: token missing algorithm")
		}
		if alg == jwa.NoSignature {
			return "", errors.New("auth: token uses none algorithm")
		}
		if algorithm == "" {
			algorithm = alg
		} else if algorithm != alg {
			return "", errors.New("auth: mixed token algorithms detected")
		}
	}
	return algorithm, nil
}

func (s *Service) signAccessToken(rec StaffRecord) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.accessTTL)
	token, err := jwt.NewBuilder().
		Subject(rec.ID.String()).
		Issuer(s.issuer).
		Audience([]string{s.audience}).
		IssuedAt(now).
		NotBefore(now.Add(-s.clockSkew)).
		Expiration(expiresAt).
		Claim("store", rec.StoreID.String()).
		Claim("roles", rec.Roles).
		Build()
	if err != nil {
		return "", time.Time{}, err
	}
	signed, err := jwt.Sign(token, jwt.WithKey(s.signer, s.secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return string(signed), expiresAt, nil
}

func (s *Service) createSession(ctx context.Context, staffID uuid.UUID, userAgent, ip string) (string, time.Time, error) {
	token, hashed, expiresAt, err := s.newRefreshToken()
	if err != nil {
		return "", time.Time{}, err
	}
	if _, err := s.store.CreateSession(ctx, SessionRecord{
		StaffID:      staffID,
		RefreshToken: hashed,
		UserAgent:    strings.TrimSpace(userAgent),
		IP:           strings.TrimSpace(ip),
		ExpiresAt:    expiresAt,
	}); err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

func (s *Service) newRefreshToken() (string, string, time.Time, error) {
	token, err := generateToken(48)
	if err != nil {
		return "", "", time.Time{}, err
	}
	return token, hashRefreshToken(token), s.now().Add(s.refreshTTL), nil
}

func generateToken(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashRefreshToken(token string) string {
	return common.Sha256Hex(token)
}

func toStaff(rec StaffRecord) Staff {
	return Staff{
		ID:        rec.ID.String(),
		StoreID:   rec.StoreID.String(),
		Name:      rec.Name,
		Email:     rec.Email,
		Roles:     rec.Roles,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}

func invalidCredentials() error {
	return common.NewAppError("INVALID_CREDENTIALS", "invalid email or password", http.StatusUnauthorized, nil)
}

func invalidRefresh() error {
	return common.NewAppError("UNAUTHORIZED", "invalid refresh token", http.StatusUnauthorized, nil)
}

func unauthorized() error {
	return common.NewAppError("UNAUTHORIZED", "unauthorized", http.StatusUnauthorized, nil)
}
