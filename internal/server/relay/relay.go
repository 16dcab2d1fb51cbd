// Package relay fans per-user events out across server nodes over Redis
// pub/sub. Each node delivers to its own sessions first, then publishes;
// nodes skip events they published themselves.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/dmitrijs2005/safechat/internal/logging"
	"github.com/dmitrijs2005/safechat/internal/server/events"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	channelPrefix    = "safechat:user:"
	publishTimeout   = 500 * time.Millisecond
	publishQueueSize = 1024
	retryDelay       = time.Second
)

// Local delivers to sessions on this node.
type Local interface {
	SendTo(userID string, ev events.Event) int
}

type message struct {
	Origin string          `json:"origin"`
	UserID string          `json:"user_id"`
	Event  json.RawMessage `json:"event"`
}

type outbound struct {
	channel string
	kind    string
	payload []byte
}

// Relay publishes from a single queue drained by Run, so events for one
// user leave in the order they were produced and SendTo never waits on
// Redis.
type Relay struct {
	rdb    *redis.Client
	local  Local
	nodeID string
	log    logging.Logger
	queue  chan outbound

	publish func(ctx context.Context, channel string, payload []byte) error
}

func New(rdb *redis.Client, local Local, log logging.Logger) *Relay {
	r := &Relay{
		rdb:    rdb,
		local:  local,
		nodeID: uuid.NewString(),
		log:    log.With("module", "relay"),
		queue:  make(chan outbound, publishQueueSize),
	}
	r.publish = func(ctx context.Context, channel string, payload []byte) error {
		return rdb.Publish(ctx, channel, payload).Err()
	}
	return r
}

// Channel is the pub/sub channel for userID.
func Channel(userID string) string {
	return channelPrefix + userID
}

// SendTo delivers locally and queues the event for other nodes. The returned
// count covers local sessions only. When the queue is full the event is
// dropped for remote nodes and logged.
func (r *Relay) SendTo(userID string, ev events.Event) int {
	n := r.local.SendTo(userID, ev)

	raw, err := ev.Encode()
	if err != nil {
		r.log.Error(context.Background(), "encode failed", "event", ev.Type, "error", err)
		return n
	}
	payload, err := json.Marshal(message{Origin: r.nodeID, UserID: userID, Event: raw})
	if err != nil {
		r.log.Error(context.Background(), "encode failed", "event", ev.Type, "error", err)
		return n
	}

	select {
	case r.queue <- outbound{channel: Channel(userID), kind: ev.Type, payload: payload}:
	default:
		r.log.Warn(context.Background(), "publish queue full, event not relayed", "user_id", userID, "event", ev.Type)
	}
	return n
}

func (r *Relay) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case o := <-r.queue:
			r.publishOne(ctx, o)
		}
	}
}

func (r *Relay) publishOne(ctx context.Context, o outbound) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := r.publish(ctx, o.channel, o.payload); err != nil {
		r.log.Warn(ctx, "publish failed", "channel", o.channel, "event", o.kind, "error", err)
	}
}

// Ping checks the Redis connection.
func (r *Relay) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Run publishes queued events and consumes events published by other nodes
// until ctx ends. A lost subscription is retried after retryDelay.
func (r *Relay) Run(ctx context.Context) error {
	publisherDone := make(chan struct{})
	go func() {
		defer close(publisherDone)
		r.publishLoop(ctx)
	}()
	defer func() { <-publisherDone }()

	for {
		err := r.subscribe(ctx)
		if ctx.Err() != nil {
			return nil
		}
		r.log.Warn(ctx, "relay subscription lost, retrying", "error", err)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(retryDelay):
		}
	}
}

func (r *Relay) subscribe(ctx context.Context) error {
	sub := r.rdb.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	r.log.Info(ctx, "relay subscribed", "node_id", r.nodeID)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("subscription channel closed")
			}
			r.deliver(ctx, msg.Channel, []byte(msg.Payload))
		}
	}
}

// deliver hands an event from another node to local sessions.
func (r *Relay) deliver(ctx context.Context, channel string, payload []byte) int {
	var m message
	if err := json.Unmarshal(payload, &m); err != nil {
		r.log.Warn(ctx, "dropping malformed relay message", "channel", channel, "error", err)
		return 0
	}
	if m.Origin == r.nodeID {
		return 0
	}
	if m.UserID == "" {
		m.UserID = strings.TrimPrefix(channel, channelPrefix)
	}

	env, err := events.Decode(m.Event)
	if err != nil {
		r.log.Warn(ctx, "dropping malformed relay event", "channel", channel, "error", err)
		return 0
	}
	return r.local.SendTo(m.UserID, events.Event{Type: env.MessageType, Data: env.Data})
}
