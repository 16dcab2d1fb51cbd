package messages

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/safechat/internal/common"
	"github.com/dmitrijs2005/safechat/internal/server/models"
	"github.com/google/uuid"
)

type memoryRow struct {
	msg *models.Message
	seq uint64
}

// MemoryRepository keeps messages in a map. It backs tests and the
// "memory://" DSN; contents vanish with the process.
type MemoryRepository struct {
	mu   sync.RWMutex
	rows map[string]memoryRow
	seq  uint64
	now  func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[string]memoryRow), now: time.Now}
}

func (r *MemoryRepository) Create(ctx context.Context, msg *models.Message) (*models.Message, error) {
	m := msg.Clone()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.Status = models.StatusSent
	m.CreatedAt = r.now().UTC()
	m.ReadAt = nil

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rows[m.ID]; ok {
		return nil, common.ErrorAlreadyExists
	}
	r.seq++
	r.rows[m.ID] = memoryRow{msg: m, seq: r.seq}
	return m.Clone(), nil
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (*models.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	row, ok := r.rows[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return row.msg.Clone(), nil
}

func (r *MemoryRepository) UpdateStatus(ctx context.Context, id string, status models.Status, at time.Time) (*models.Message, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[id]
	if !ok {
		return nil, false, common.ErrorNotFound
	}
	if !row.msg.Status.Advances(status) {
		return row.msg.Clone(), false, nil
	}
	row.msg.Status = status
	if status == models.StatusRead {
		t := at.UTC()
		row.msg.ReadAt = &t
	}
	return row.msg.Clone(), true, nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rows[id]; !ok {
		return common.ErrorNotFound
	}
	delete(r.rows, id)
	return nil
}

func (r *MemoryRepository) ListBetween(ctx context.Context, a, b string, limit int) ([]*models.Message, error) {
	return r.list(limit, func(m *models.Message) bool {
		return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
	}), nil
}

func (r *MemoryRepository) ListRead(ctx context.Context) ([]*models.Message, error) {
	return r.list(0, func(m *models.Message) bool { return m.Status == models.StatusRead }), nil
}

// list returns matches newest first; limit <= 0 means no limit.
func (r *MemoryRepository) list(limit int, match func(*models.Message) bool) []*models.Message {
	r.mu.RLock()
	matched := make([]memoryRow, 0)
	for _, row := range r.rows {
		if match(row.msg) {
			matched = append(matched, memoryRow{msg: row.msg.Clone(), seq: row.seq})
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].msg.CreatedAt.Equal(matched[j].msg.CreatedAt) {
			return matched[i].msg.CreatedAt.After(matched[j].msg.CreatedAt)
		}
		return matched[i].seq > matched[j].seq
	})

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	result := make([]*models.Message, 0, len(matched))
	for _, row := range matched {
		result = append(result, row.msg)
	}
	return result
}
