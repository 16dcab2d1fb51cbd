package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/safechat/internal/dbx"
	"github.com/dmitrijs2005/safechat/internal/server/repositories/messages"
	"github.com/dmitrijs2005/safechat/internal/server/repositories/users"
)

// MemoryRepositoryManager hands out process-local stores. The db argument
// is ignored; every call returns the same instances.
type MemoryRepositoryManager struct {
	users    *users.MemoryRepository
	messages *messages.MemoryRepository
}

func NewMemoryRepositoryManager() RepositoryManager {
	return &MemoryRepositoryManager{
		users:    users.NewMemoryRepository(),
		messages: messages.NewMemoryRepository(),
	}
}

func (m *MemoryRepositoryManager) RunMigrations(context.Context, *sql.DB) error { return nil }

func (m *MemoryRepositoryManager) Users(dbx.DBTX) users.Repository { return m.users }

func (m *MemoryRepositoryManager) Messages(dbx.DBTX) messages.Repository { return m.messages }
