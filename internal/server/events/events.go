// Package events defines the websocket wire protocol: a JSON envelope
// {"message_type": ..., "data": {...}} and the payloads carried in it.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/dmitrijs2005/safechat/internal/common"
	"github.com/dmitrijs2005/safechat/internal/server/models"
)

// Inbound kinds.
const (
	TypeSendMessage  = "send_message"
	TypeUpdateStatus = "update_status"
	TypePing         = "ping"
)

// Outbound kinds.
const (
	TypeNewMessage     = "new_message"
	TypeStatusUpdate   = "status_update"
	TypeUserOnline     = "user_online"
	TypeUserOffline    = "user_offline"
	TypeMessageDeleted = "message_deleted"
	TypePong           = "pong"
	TypeError          = "error"
)

// UpdatedByServer marks status changes made by the server itself.
const UpdatedByServer = "server"

// Error codes carried in error events.
const (
	CodeBadRequest     = "bad_request"
	CodeUnauthorized   = "unauthorized"
	CodeNotFound       = "not_found"
	CodeDeliveryFailed = "delivery_failed"
	CodeInternal       = "internal"
)

var ErrMalformedEnvelope = errors.New("malformed envelope")

// Envelope is the decoded form of every frame. Data stays raw until the
// kind is known.
type Envelope struct {
	MessageType string          `json:"message_type"`
	Data        json.RawMessage `json:"data"`
}

// Event is an outbound frame. Data is any JSON-encodable payload; a nil
// Data is sent as {}.
type Event struct {
	Type string
	Data any
}

type wireEvent struct {
	MessageType string `json:"message_type"`
	Data        any    `json:"data"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	data := e.Data
	if data == nil {
		data = struct{}{}
	}
	return json.Marshal(wireEvent{MessageType: e.Type, Data: data})
}

// Encode returns the frame bytes for e.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses one inbound frame. The message_type must be present.
func Decode(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.MessageType == "" {
		return Envelope{}, fmt.Errorf("%w: missing message_type", ErrMalformedEnvelope)
	}
	return env, nil
}

// DecodeData unmarshals the payload of env into v. Absent data decodes as {}.
func DecodeData(env Envelope, v any) error {
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: %v", common.ErrorValidation, err)
	}
	return nil
}

// SendMessage is the send_message payload. Content and IV travel as base64.
type SendMessage struct {
	MessageID        string `json:"message_id,omitempty"`
	ReceiverID       string `json:"receiver_id"`
	Type             string `json:"type"`
	EncryptedContent []byte `json:"encrypted_content"`
	IV               []byte `json:"iv"`
}

// UpdateStatus is the update_status payload.
type UpdateStatus struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

type NewMessage struct {
	ID               string `json:"id"`
	Timestamp        string `json:"timestamp"`
	SenderID         string `json:"sender_id"`
	ReceiverID       string `json:"receiver_id"`
	Status           string `json:"status"`
	Type             string `json:"type"`
	EncryptedContent []byte `json:"encrypted_content"`
	IV               []byte `json:"iv"`
}

type StatusUpdate struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
	UpdatedBy string `json:"updated_by"`
}

type Presence struct {
	UserID string `json:"user_id"`
}

type MessageDeleted struct {
	MessageID string `json:"message_id"`
	DeletedBy string `json:"deleted_by"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Ref     string `json:"ref,omitempty"`
}

// Timestamp renders the creation time of m as unix milliseconds.
func Timestamp(m *models.Message) string {
	return strconv.FormatInt(m.CreatedAt.UnixMilli(), 10)
}

// MessageView is the JSON shape of a stored message, shared by new_message
// events and the history endpoint.
func MessageView(m *models.Message) NewMessage {
	return NewMessage{
		ID:               m.ID,
		Timestamp:        Timestamp(m),
		SenderID:         m.SenderID,
		ReceiverID:       m.ReceiverID,
		Status:           string(m.Status),
		Type:             m.Type,
		EncryptedContent: m.EncryptedContent,
		IV:               m.IV,
	}
}

func NewMessageEvent(m *models.Message) Event {
	return Event{Type: TypeNewMessage, Data: MessageView(m)}
}

func StatusUpdateEvent(messageID string, status models.Status, updatedBy string) Event {
	return Event{Type: TypeStatusUpdate, Data: StatusUpdate{MessageID: messageID, Status: string(status), UpdatedBy: updatedBy}}
}

func UserOnline(userID string) Event {
	return Event{Type: TypeUserOnline, Data: Presence{UserID: userID}}
}

func UserOffline(userID string) Event {
	return Event{Type: TypeUserOffline, Data: Presence{UserID: userID}}
}

func MessageDeletedEvent(messageID, deletedBy string) Event {
	return Event{Type: TypeMessageDeleted, Data: MessageDeleted{MessageID: messageID, DeletedBy: deletedBy}}
}

func Pong() Event {
	return Event{Type: TypePong}
}

// ErrorEvent maps err onto an error code. Internal details are not echoed
// for delivery and internal failures.
func ErrorEvent(err error, ref string) Event {
	code := CodeFor(err)
	msg := err.Error()
	switch code {
	case CodeDeliveryFailed:
		msg = common.ErrorDeliveryFailed.Error()
	case CodeInternal:
		msg = common.ErrorInternal.Error()
	}
	return Event{Type: TypeError, Data: Error{Code: code, Message: msg, Ref: ref}}
}

// CodeFor classifies err with errors.Is against the common sentinels.
func CodeFor(err error) string {
	switch {
	case errors.Is(err, common.ErrorValidation), errors.Is(err, ErrMalformedEnvelope):
		return CodeBadRequest
	case errors.Is(err, common.ErrorUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, common.ErrorNotFound):
		return CodeNotFound
	case errors.Is(err, common.ErrorDeliveryFailed):
		return CodeDeliveryFailed
	default:
		return CodeInternal
	}
}
