package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/dmitrijs2005/safechat/internal/common"
	"github.com/dmitrijs2005/safechat/internal/logging"
	"github.com/dmitrijs2005/safechat/internal/server/config"
	"github.com/dmitrijs2005/safechat/internal/server/events"
	"github.com/dmitrijs2005/safechat/internal/server/models"
	"github.com/dmitrijs2005/safechat/internal/server/repositories/messages"
	"github.com/dmitrijs2005/safechat/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/safechat/internal/server/scheduler"
	"github.com/google/uuid"
)

const (
	lockStripes = 256
	defaultType = "text"
)

// Notifier delivers an event to every live session of a user and returns
// how many sessions accepted it.
type Notifier interface {
	SendTo(userID string, ev events.Event) int
}

// SendInput is what a sender supplies for a new message.
type SendInput struct {
	// MessageID is an optional client-chosen UUID. Anything else is ignored
	// and the server assigns an id.
	MessageID        string
	ReceiverID       string
	Type             string
	EncryptedContent []byte
	IV               []byte
}

// ChatService owns the message lifecycle: Sent on creation, Read when the
// receiver says so, gone ReadGraceWindow later. Every mutation of one
// message and the events it produces happen under that message's lock, so
// participants observe status changes in order.
type ChatService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	notifier    Notifier
	scheduler   *scheduler.Scheduler
	locks       [lockStripes]sync.Mutex
	graceWindow time.Duration
	pageSize    int
	log         logging.Logger
	now         func() time.Time
}

func NewChatService(db *sql.DB, m repomanager.RepositoryManager, n Notifier, cfg *config.Config, log logging.Logger) *ChatService {
	s := &ChatService{
		db:          db,
		repomanager: m,
		notifier:    n,
		graceWindow: cfg.ReadGraceWindow,
		pageSize:    cfg.HistoryPageSize,
		log:         log.With("module", "chat"),
		now:         time.Now,
	}
	s.scheduler = scheduler.New(log, s.purge, scheduler.DefaultFireTimeout)
	return s
}

// messageKey canonicalizes a client-supplied message id. Message ids are
// always UUIDs, so anything else cannot name a stored message.
func messageKey(id string) (string, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", fmt.Errorf("%w: message %q", common.ErrorNotFound, id)
	}
	return parsed.String(), nil
}

func (s *ChatService) repo() messages.Repository {
	return s.repomanager.Messages(s.db)
}

func (s *ChatService) lock(id string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	mu := &s.locks[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

// Send persists a message from senderID, pushes it to the receiver's
// sessions and confirms it to the sender's sessions. An offline receiver
// picks it up through history.
func (s *ChatService) Send(ctx context.Context, senderID string, in SendInput) (*models.Message, error) {
	if _, err := uuid.Parse(in.ReceiverID); err != nil {
		return nil, fmt.Errorf("%w: invalid receiver_id", common.ErrorValidation)
	}
	if len(in.EncryptedContent) == 0 {
		return nil, fmt.Errorf("%w: encrypted_content is empty", common.ErrorValidation)
	}
	if len(in.IV) == 0 {
		return nil, fmt.Errorf("%w: iv is empty", common.ErrorValidation)
	}

	id := uuid.NewString()
	if parsed, err := uuid.Parse(in.MessageID); err == nil {
		id = parsed.String()
	}
	msgType := in.Type
	if msgType == "" {
		msgType = defaultType
	}

	unlock := s.lock(id)
	defer unlock()

	m, err := s.repo().Create(ctx, &models.Message{
		ID:               id,
		SenderID:         senderID,
		ReceiverID:       in.ReceiverID,
		Type:             msgType,
		EncryptedContent: in.EncryptedContent,
		IV:               in.IV,
	})
	if err != nil {
		s.log.Error(ctx, "failed to store message", "message_id", id, "sender_id", senderID, "error", err)
		return nil, fmt.Errorf("%w: %w", common.ErrorDeliveryFailed, err)
	}

	delivered := s.notifier.SendTo(m.ReceiverID, events.NewMessageEvent(m))
	s.notifier.SendTo(m.SenderID, events.StatusUpdateEvent(m.ID, models.StatusSent, events.UpdatedByServer))

	s.log.Debug(ctx, "message stored", "message_id", m.ID, "receiver_sessions", delivered)
	return m, nil
}

// UpdateStatus applies a client status request. Only the receiver may move
// a message to Read; a status already held or lower is a no-op.
func (s *ChatService) UpdateStatus(ctx context.Context, messageID, requesterID string, status models.Status) (*models.Message, error) {
	switch status {
	case models.StatusSent, models.StatusRead:
	default:
		return nil, fmt.Errorf("%w: status %q cannot be requested", common.ErrorValidation, status)
	}
	messageID, err := messageKey(messageID)
	if err != nil {
		return nil, err
	}

	unlock := s.lock(messageID)
	defer unlock()

	repo := s.repo()
	m, err := repo.Get(ctx, messageID)
	if err != nil {
		return nil, s.storeError(err)
	}
	if m.ReceiverID != requesterID {
		return nil, fmt.Errorf("%w: only the receiver can update status", common.ErrorUnauthorized)
	}
	if !m.Status.Advances(status) {
		return m, nil
	}

	m, changed, err := repo.UpdateStatus(ctx, messageID, status, s.now())
	if err != nil {
		s.log.Error(ctx, "failed to update status", "message_id", messageID, "error", err)
		return nil, s.storeError(err)
	}
	if !changed {
		return m, nil
	}

	s.scheduler.Schedule(m.ID, s.graceWindow)
	s.notifyParticipants(m, events.StatusUpdateEvent(m.ID, m.Status, requesterID))
	return m, nil
}

// MarkRead is UpdateStatus with StatusRead.
func (s *ChatService) MarkRead(ctx context.Context, messageID, requesterID string) (*models.Message, error) {
	return s.UpdateStatus(ctx, messageID, requesterID, models.StatusRead)
}

// Delete removes a message on behalf of one of its participants and tells
// both of them.
func (s *ChatService) Delete(ctx context.Context, messageID, requesterID string) error {
	messageID, err := messageKey(messageID)
	if err != nil {
		return err
	}

	unlock := s.lock(messageID)
	defer unlock()

	repo := s.repo()
	m, err := repo.Get(ctx, messageID)
	if err != nil {
		return s.storeError(err)
	}
	if !m.HasParticipant(requesterID) {
		return fmt.Errorf("%w: not a participant", common.ErrorUnauthorized)
	}
	if err := repo.Delete(ctx, messageID); err != nil {
		return s.storeError(err)
	}
	s.scheduler.Cancel(messageID)
	s.notifyParticipants(m, events.MessageDeletedEvent(messageID, requesterID))
	return nil
}

// History returns the conversation between requesterID and peerID, newest
// first. limit is clamped to the configured page size.
func (s *ChatService) History(ctx context.Context, requesterID, peerID string, limit int) ([]*models.Message, error) {
	if _, err := uuid.Parse(peerID); err != nil {
		return nil, fmt.Errorf("%w: invalid user_id", common.ErrorValidation)
	}
	if limit <= 0 || limit > s.pageSize {
		limit = s.pageSize
	}
	list, err := s.repo().ListBetween(ctx, requesterID, peerID, limit)
	if err != nil {
		return nil, s.storeError(err)
	}
	return list, nil
}

// Recover re-arms deletion timers for messages that were read before a
// restart. Timers whose grace already elapsed fire immediately.
func (s *ChatService) Recover(ctx context.Context) (int, error) {
	list, err := s.repo().ListRead(ctx)
	if err != nil {
		return 0, err
	}
	now := s.now()
	for _, m := range list {
		delay := s.graceWindow
		if m.ReadAt != nil {
			delay = m.ReadAt.Add(s.graceWindow).Sub(now)
		}
		s.scheduler.Schedule(m.ID, delay)
	}
	s.log.Info(ctx, "deletion timers recovered", "count", len(list))
	return len(list), nil
}

// PendingDeletion reports whether a deletion timer is armed for messageID.
func (s *ChatService) PendingDeletion(messageID string) bool {
	return s.scheduler.Pending(messageID)
}

// Close disarms all pending deletion timers.
func (s *ChatService) Close() {
	s.scheduler.Stop()
}

// purge is the deletion timer callback.
func (s *ChatService) purge(ctx context.Context, messageID string) {
	unlock := s.lock(messageID)
	defer unlock()

	repo := s.repo()
	m, err := repo.Get(ctx, messageID)
	if err != nil {
		if !errors.Is(err, common.ErrorNotFound) {
			s.log.Error(ctx, "purge lookup failed", "message_id", messageID, "error", err)
		}
		return
	}
	if m.Status != models.StatusRead {
		return
	}
	if err := repo.Delete(ctx, messageID); err != nil && !errors.Is(err, common.ErrorNotFound) {
		s.log.Error(ctx, "purge failed", "message_id", messageID, "error", err)
		return
	}
	s.log.Debug(ctx, "message purged", "message_id", messageID)
}

func (s *ChatService) notifyParticipants(m *models.Message, ev events.Event) {
	s.notifier.SendTo(m.SenderID, ev)
	if m.ReceiverID != m.SenderID {
		s.notifier.SendTo(m.ReceiverID, ev)
	}
}

func (s *ChatService) storeError(err error) error {
	if errors.Is(err, common.ErrorNotFound) {
		return common.ErrorNotFound
	}
	return fmt.Errorf("%w: %v", common.ErrorInternal, err)
}
