// Package messages declares the Message Store contract and its PostgreSQL
// and in-memory implementations.
package messages

import (
	"context"
	"time"

	"github.com/dmitrijs2005/safechat/internal/server/models"
)

// Repository persists encrypted messages and their status. Every write is
// atomic for one row; nothing here spans messages.
type Repository interface {
	// Create stores msg with status Sent and a server timestamp. An empty ID
	// is replaced by a fresh UUID. A duplicate ID yields common.ErrorAlreadyExists.
	Create(ctx context.Context, msg *models.Message) (*models.Message, error)

	// Get returns common.ErrorNotFound when the message is absent.
	Get(ctx context.Context, id string) (*models.Message, error)

	// UpdateStatus moves the message forward to status. The bool is false
	// when the message already held status (or a later one); that case is
	// not an error. at is recorded as ReadAt for StatusRead.
	UpdateStatus(ctx context.Context, id string, status models.Status, at time.Time) (*models.Message, bool, error)

	// Delete returns common.ErrorNotFound when nothing was deleted.
	Delete(ctx context.Context, id string) error

	// ListBetween returns up to limit messages exchanged by a and b, newest first.
	ListBetween(ctx context.Context, a, b string, limit int) ([]*models.Message, error)

	// ListRead returns every message currently in StatusRead.
	ListRead(ctx context.Context) ([]*models.Message, error)
}
