package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/cbt-exam/internal/model"
)

// ErrUsernameTaken is returned by CreateAccount when the username already exists.
var ErrUsernameTaken = errors.New("username already taken")

// ErrProfileExists is returned by CreateCBTUser when the user already has a CBT profile.
var ErrProfileExists = errors.New("cbt profile already exists")

const uniqueViolation = "23505"

// UserRepository handles users, their auth tokens and CBT profiles.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// FindPrincipalByToken resolves a token key to its active user and optional CBT profile.
// Returns pgx.ErrNoRows for unknown keys and inactive users.
func (r *UserRepository) FindPrincipalByToken(ctx context.Context, key string) (*model.Principal, error) {
	p := &model.Principal{}
	err := r.pool.QueryRow(ctx,
		`SELECT u.id, u.username, c.id
		 FROM auth_tokens t
		 JOIN users u ON u.id = t.user_id
		 LEFT JOIN cbt_users c ON c.user_id = u.id
		 WHERE t.key = $1 AND u.is_active`, key,
	).Scan(&p.UserID, &p.Username, &p.CBTUserID)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// FindByUsername returns the user with the given username, or pgx.ErrNoRows.
func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	u := &model.User{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, username, email, password_hash, is_active, created_at
		 FROM users WHERE username = $1`, username,
	).Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.IsActive, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// CreateAccount inserts a user, its token and, when withProfile is set, a CBT profile
// in one transaction.
func (r *UserRepository) CreateAccount(ctx context.Context, u *model.User, token *model.AuthToken, withProfile bool) (*model.CBTUser, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := tx.QueryRow(ctx,
		`INSERT INTO users (username, email, password_hash, is_active)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		u.Username, u.Email, u.PasswordHash, u.IsActive,
	).Scan(&u.ID, &u.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	token.UserID = u.ID
	if err := tx.QueryRow(ctx,
		`INSERT INTO auth_tokens (key, user_id) VALUES ($1, $2) RETURNING created_at`,
		token.Key, token.UserID,
	).Scan(&token.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert token: %w", err)
	}

	var profile *model.CBTUser
	if withProfile {
		profile = &model.CBTUser{UserID: u.ID}
		if err := insertCBTUser(ctx, tx, profile); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return profile, nil
}

// CreateCBTUser attaches a CBT profile to an existing user.
func (r *UserRepository) CreateCBTUser(ctx context.Context, c *model.CBTUser) error {
	return insertCBTUser(ctx, r.pool, c)
}

// rowQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertCBTUser(ctx context.Context, q rowQuerier, c *model.CBTUser) error {
	if err := q.QueryRow(ctx,
		`INSERT INTO cbt_users (user_id) VALUES ($1) RETURNING id, created_at`,
		c.UserID,
	).Scan(&c.ID, &c.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrProfileExists
		}
		return fmt.Errorf("insert cbt user: %w", err)
	}
	return nil
}
