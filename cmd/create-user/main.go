package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/cbt-exam/internal/config"
	"github.com/stemsi/cbt-exam/internal/database"
	"github.com/stemsi/cbt-exam/internal/logger"
	"github.com/stemsi/cbt-exam/internal/model"
	"github.com/stemsi/cbt-exam/internal/repository"
	"github.com/stemsi/cbt-exam/internal/service"
	"golang.org/x/term"
)

var errUserNotFound = errors.New("user not found")

func main() {
	var grantCBT string
	flag.StringVar(&grantCBT, "grant-cbt", "", "Attach a CBT profile to an existing username instead of creating a user")
	flag.Parse()

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	if err := run(context.Background(), cfg, log, grantCBT); err != nil {
		log.Error().Err(err).Msg("create-user failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger, grantCBT string) error {
	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("connect to PostgreSQL: %w", err)
	}
	defer pool.Close()

	// ─── Initialize Service ────────────────────────────────────────────
	userRepo := repository.NewUserRepository(pool)
	authService := service.NewAuthService(userRepo, nil, cfg.BcryptCost, log)

	if grantCBT != "" {
		profile, err := grantCBTProfile(ctx, userRepo, grantCBT)
		if err != nil {
			return err
		}
		fmt.Printf("Success! CBT profile %s granted to '%s'\n", profile.ID, grantCBT)
		return nil
	}

	return createUser(ctx, bufio.NewReader(os.Stdin), userRepo, authService)
}

type profileStore interface {
	FindByUsername(ctx context.Context, username string) (*model.User, error)
	CreateCBTUser(ctx context.Context, c *model.CBTUser) error
}

// grantCBTProfile attaches a CBT profile to the named user.
func grantCBTProfile(ctx context.Context, store profileStore, username string) (*model.CBTUser, error) {
	user, err := store.FindByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", errUserNotFound, username)
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}

	profile := &model.CBTUser{UserID: user.ID}
	if err := store.CreateCBTUser(ctx, profile); err != nil {
		return nil, err
	}
	return profile, nil
}

func createUser(ctx context.Context, reader *bufio.Reader, userRepo *repository.UserRepository, authService *service.AuthService) error {
	fmt.Println("=== Create New User ===")

	// Username
	fmt.Print("Enter Username: ")
	username, _ := reader.ReadString('\n')
	username = strings.TrimSpace(username)
	if username == "" {
		return errors.New("username is required")
	}

	// Email
	fmt.Print("Enter Email: ")
	email, _ := reader.ReadString('\n')
	email = strings.TrimSpace(email)

	// Password
	fmt.Print("Enter Password: ")
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println() // Newline after password input
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}
	password := string(bytePassword)
	if len(password) < 6 {
		return errors.New("password must be at least 6 characters")
	}

	// Hash Password
	hashedPassword, err := authService.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	fmt.Print("Confirm Password: ")
	byteConfirm, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil || !authService.CheckPassword(hashedPassword, string(byteConfirm)) {
		return errors.New("passwords do not match")
	}

	// CBT profile
	fmt.Print("Grant CBT profile (may create exams)? [y/N]: ")
	answer, _ := reader.ReadString('\n')
	withProfile := strings.EqualFold(strings.TrimSpace(answer), "y")

	// ─── Logic ─────────────────────────────────────────────────────────

	key, err := service.GenerateTokenKey()
	if err != nil {
		return fmt.Errorf("generate token: %w", err)
	}

	user := &model.User{
		Username:     username,
		Email:        email,
		PasswordHash: hashedPassword,
		IsActive:     true,
	}
	token := &model.AuthToken{Key: key}

	profile, err := userRepo.CreateAccount(ctx, user, token, withProfile)
	if err != nil {
		return fmt.Errorf("create user '%s': %w", username, err)
	}

	// Resolve the fresh token the same way the API will.
	principal, err := authService.Authenticate(ctx, key)
	if err != nil {
		return fmt.Errorf("created token does not authenticate: %w", err)
	}

	fmt.Printf("\nSuccess! User '%s' created with ID: %d\n", user.Username, principal.UserID)
	if profile != nil {
		fmt.Printf("CBT profile: %s\n", profile.ID)
	}
	fmt.Printf("Token: %s\n", token.Key)
	fmt.Printf("Use it as:  Authorization: Token %s\n", token.Key)
	return nil
}
