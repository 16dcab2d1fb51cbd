package messages

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/safechat/internal/common"
	"github.com/dmitrijs2005/safechat/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_CreateGetDelete(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()

	in := &models.Message{SenderID: aliceID, ReceiverID: bobID, Type: "text", EncryptedContent: []byte("c"), IV: []byte("iv")}
	m, err := r.Create(ctx, in)
	require.NoError(t, err)
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, models.StatusSent, m.Status)

	// callers cannot mutate stored bytes
	m.EncryptedContent[0] = 'x'
	got, err := r.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("c"), got.EncryptedContent)

	_, err = r.Create(ctx, &models.Message{ID: m.ID})
	assert.ErrorIs(t, err, common.ErrorAlreadyExists)

	require.NoError(t, r.Delete(ctx, m.ID))
	assert.ErrorIs(t, r.Delete(ctx, m.ID), common.ErrorNotFound)
	_, err = r.Get(ctx, m.ID)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestMemory_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	m, err := r.Create(ctx, &models.Message{SenderID: aliceID, ReceiverID: bobID})
	require.NoError(t, err)

	at := time.Now()
	got, changed, err := r.UpdateStatus(ctx, m.ID, models.StatusRead, at)
	require.NoError(t, err)
	assert.True(t, changed)
	require.NotNil(t, got.ReadAt)

	got, changed, err = r.UpdateStatus(ctx, m.ID, models.StatusRead, at.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.True(t, got.ReadAt.Equal(at), "read_at is not rewritten")

	got, changed, err = r.UpdateStatus(ctx, m.ID, models.StatusSent, at)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, models.StatusRead, got.Status)

	_, _, err = r.UpdateStatus(ctx, "missing", models.StatusRead, at)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestMemory_UpdateStatus_ConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	m, err := r.Create(ctx, &models.Message{SenderID: aliceID, ReceiverID: bobID})
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, changed, err := r.UpdateStatus(ctx, m.ID, models.StatusRead, time.Now())
			if err == nil && changed {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestMemory_ListBetween(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	r.now = func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Second) }

	a, _ := r.Create(ctx, &models.Message{SenderID: aliceID, ReceiverID: bobID})
	b, _ := r.Create(ctx, &models.Message{SenderID: bobID, ReceiverID: aliceID})
	_, _ = r.Create(ctx, &models.Message{SenderID: aliceID, ReceiverID: "someone-else"})
	c, _ := r.Create(ctx, &models.Message{SenderID: aliceID, ReceiverID: bobID})

	got, err := r.ListBetween(ctx, bobID, aliceID, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{c.ID, b.ID, a.ID}, []string{got[0].ID, got[1].ID, got[2].ID})

	got, err = r.ListBetween(ctx, aliceID, bobID, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, c.ID, got[0].ID)
}

func TestMemory_ListRead(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	a, _ := r.Create(ctx, &models.Message{SenderID: aliceID, ReceiverID: bobID})
	_, _ = r.Create(ctx, &models.Message{SenderID: aliceID, ReceiverID: bobID})
	_, _, _ = r.UpdateStatus(ctx, a.ID, models.StatusRead, time.Now())

	got, err := r.ListRead(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, a.ID, got[0].ID)
}

func TestRepositoriesSatisfyInterface(t *testing.T) {
	var _ Repository = NewMemoryRepository()
	var _ Repository = NewPostgresRepository(nil)
}
