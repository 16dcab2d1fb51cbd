package messages

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/safechat/internal/common"
	"github.com/dmitrijs2005/safechat/internal/dbx"
	"github.com/dmitrijs2005/safechat/internal/server/models"
	"github.com/google/uuid"
)

const selectColumns = `SELECT id, sender_id, receiver_id, type, encrypted_content, iv, status, created_at, read_at FROM messages`

// PostgresRepository implements message storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var (
		m      models.Message
		status string
		readAt sql.NullTime
	)
	if err := row.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Type, &m.EncryptedContent, &m.IV, &status, &m.CreatedAt, &readAt); err != nil {
		return nil, err
	}
	m.Status = models.Status(status)
	if readAt.Valid {
		t := readAt.Time
		m.ReadAt = &t
	}
	return &m, nil
}

func (r *PostgresRepository) Create(ctx context.Context, msg *models.Message) (*models.Message, error) {
	m := msg.Clone()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.Status = models.StatusSent
	m.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	m.ReadAt = nil

	query := `
		INSERT INTO messages (id, sender_id, receiver_id, type, encrypted_content, iv, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query,
		m.ID, m.SenderID, m.ReceiverID, m.Type, m.EncryptedContent, m.IV, string(m.Status), m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	if err := dbx.ExpectAffected(res); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorAlreadyExists
		}
		return nil, err
	}
	return m, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Message, error) {
	return r.get(ctx, r.db, selectColumns+` WHERE id = $1`, id)
}

func (r *PostgresRepository) get(ctx context.Context, db dbx.DBTX, query string, id string) (*models.Message, error) {
	m, err := scanMessage(db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return m, nil
}

// UpdateStatus locks the row, compares, and writes. When the repository is
// bound to a *sql.DB it opens its own transaction; when it is already bound
// to a transaction it runs inside that one.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, status models.Status, at time.Time) (*models.Message, bool, error) {
	var (
		result  *models.Message
		changed bool
	)

	fn := func(ctx context.Context, tx dbx.DBTX) error {
		current, err := r.get(ctx, tx, selectColumns+` WHERE id = $1 FOR UPDATE`, id)
		if err != nil {
			return err
		}
		if !current.Status.Advances(status) {
			result = current
			return nil
		}

		var readAt sql.NullTime
		if status == models.StatusRead {
			readAt = sql.NullTime{Time: at.UTC(), Valid: true}
		}

		res, err := tx.ExecContext(ctx, `UPDATE messages SET status = $2, read_at = $3 WHERE id = $1`, id, string(status), readAt)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		if err := dbx.ExpectAffected(res); err != nil {
			return err
		}

		current.Status = status
		if readAt.Valid {
			t := readAt.Time
			current.ReadAt = &t
		}
		result, changed = current, true
		return nil
	}

	var err error
	if b, ok := r.db.(dbx.Beginner); ok {
		err = dbx.WithTx(ctx, b, nil, fn)
	} else {
		err = fn(ctx, r.db)
	}
	if err != nil {
		return nil, false, err
	}
	return result, changed, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.ExpectAffected(res)
}

func (r *PostgresRepository) ListBetween(ctx context.Context, a, b string, limit int) ([]*models.Message, error) {
	query := selectColumns + `
		WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $3`
	return r.list(ctx, query, a, b, limit)
}

func (r *PostgresRepository) ListRead(ctx context.Context) ([]*models.Message, error) {
	return r.list(ctx, selectColumns+` WHERE status = $1 ORDER BY read_at`, string(models.StatusRead))
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*models.Message, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select messages: %w", err)
	}
	defer rows.Close()

	result := make([]*models.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
