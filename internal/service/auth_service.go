package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/cbt-exam/internal/model"
	"golang.org/x/crypto/bcrypt"
)

// Common auth errors.
var (
	ErrTokenInvalid = errors.New("invalid token")
)

// TokenKeyLength is the length of a generated token key in hex characters.
const TokenKeyLength = 40

// PrincipalStore resolves token keys against the user tables.
type PrincipalStore interface {
	FindPrincipalByToken(ctx context.Context, key string) (*model.Principal, error)
}

// PrincipalCache caches resolved principals. Get returns (nil, nil) on a miss.
type PrincipalCache interface {
	Get(ctx context.Context, key string) (*model.Principal, error)
	Set(ctx context.Context, key string, p *model.Principal) error
}

// AuthService resolves opaque tokens and hashes passwords.
type AuthService struct {
	store      PrincipalStore
	cache      PrincipalCache
	bcryptCost int
	log        zerolog.Logger
}

// NewAuthService creates a new AuthService.
func NewAuthService(store PrincipalStore, cache PrincipalCache, bcryptCost int, log zerolog.Logger) *AuthService {
	return &AuthService{
		store:      store,
		cache:      cache,
		bcryptCost: bcryptCost,
		log:        log.With().Str("component", "auth_service").Logger(),
	}
}

// Authenticate resolves a token key to its principal.
// Unknown keys and keys of inactive users return ErrTokenInvalid.
func (s *AuthService) Authenticate(ctx context.Context, key string) (*model.Principal, error) {
	key = strings.TrimSpace(key)
	if key == "" || len(key) > 2*TokenKeyLength {
		return nil, ErrTokenInvalid
	}

	if s.cache != nil {
		p, err := s.cache.Get(ctx, key)
		if err != nil {
			s.log.Warn().Err(err).Msg("Token cache read failed")
		}
		if p != nil {
			return p, nil
		}
	}

	p, err := s.store.FindPrincipalByToken(ctx, key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("find token: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, p); err != nil {
			s.log.Warn().Err(err).Msg("Token cache write failed")
		}
	}
	return p, nil
}

// HashPassword hashes a password with the configured bcrypt cost.
func (s *AuthService) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	return string(hash), err
}

// CheckPassword compares a plaintext password against a bcrypt hash.
func (s *AuthService) CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// GenerateTokenKey returns a new random token key of TokenKeyLength hex characters.
func GenerateTokenKey() (string, error) {
	buf := make([]byte, TokenKeyLength/2)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
