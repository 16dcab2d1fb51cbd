// Package services contains server-side business logic. This file implements
// UserService, which handles registration, login and issuing bearer tokens.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/safechat/internal/common"
	"github.com/dmitrijs2005/safechat/internal/server/auth"
	"github.com/dmitrijs2005/safechat/internal/server/config"
	"github.com/dmitrijs2005/safechat/internal/server/models"
	"github.com/dmitrijs2005/safechat/internal/server/repositories/repomanager"
)

// UserService provides authentication-related operations:
// - Register: create users with a salted argon2id verifier
// - Login: verify credentials and mint an access token
type UserService struct {
	db                          *sql.DB
	repomanager                 repomanager.RepositoryManager
	jwtSecret                   []byte
	accessTokenValidityDuration time.Duration
}

// NewUserService constructs a UserService using repositories and server config.
func NewUserService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config) *UserService {
	return &UserService{
		db:                          db,
		repomanager:                 m,
		jwtSecret:                   []byte(cfg.SecretKey),
		accessTokenValidityDuration: cfg.AccessTokenValidityDuration,
	}
}

// Register creates a new user. A taken username yields common.ErrorAlreadyExists.
func (s *UserService) Register(ctx context.Context, username, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, fmt.Errorf("%w: username and password are required", common.ErrorValidation)
	}

	salt := common.GenerateRandByteArray(auth.SaltSize)
	pwd := []byte(password)
	defer common.WipeByteArray(pwd)

	user := &models.User{UserName: username, Salt: salt, Verifier: auth.DeriveVerifier(pwd, salt)}
	repo := s.repomanager.Users(s.db)
	u, err := repo.Create(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("error creating user: %w", err)
	}
	return u, nil
}

// Login verifies the password and, on success, returns a signed access token.
// Unknown users and wrong passwords both yield common.ErrorUnauthorized after
// the same amount of hashing work.
func (s *UserService) Login(ctx context.Context, username, password string) (string, error) {
	pwd := []byte(password)
	defer common.WipeByteArray(pwd)

	repo := s.repomanager.Users(s.db)
	user, err := repo.GetUserByLogin(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			_ = auth.DeriveVerifier(pwd, s.getRandomSalt())
			return "", common.ErrorUnauthorized
		}
		return "", common.ErrorInternal
	}
	if !auth.CheckVerifier(user.Verifier, auth.DeriveVerifier(pwd, user.Salt)) {
		return "", common.ErrorUnauthorized
	}

	token, err := s.generateAccessToken(user.ID)
	if err != nil {
		return "", common.ErrorInternal
	}
	return token, nil
}

// --- helpers below ---

func (s *UserService) getRandomSalt() []byte { return common.GenerateRandByteArray(auth.SaltSize) }

func (s *UserService) generateAccessToken(userID string) (string, error) {
	return auth.GenerateToken(userID, s.jwtSecret, s.accessTokenValidityDuration)
}
