package users

import (
	"context"

	"github.com/dmitrijs2005/safechat/internal/server/models"
)

type Repository interface {
	// Create returns common.ErrorAlreadyExists when the username is taken.
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetUserByLogin(ctx context.Context, login string) (*models.User, error)
}
