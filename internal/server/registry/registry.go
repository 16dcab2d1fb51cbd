// Package registry tracks live sessions per user and delivers events to
// them. A user may hold any number of concurrent sessions.
package registry

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/dmitrijs2005/safechat/internal/logging"
	"github.com/dmitrijs2005/safechat/internal/server/events"
	"github.com/google/uuid"
)

const shardCount = 32

// Handle is one live session. Send must not block; an error means the
// session can no longer receive and it is pruned.
type Handle interface {
	Send(ev events.Event) error
}

type shard struct {
	mu    sync.RWMutex
	users map[string]map[string]Handle
}

type target struct {
	userID string
	token  string
	handle Handle
}

type Registry struct {
	shards    [shardCount]*shard
	log       logging.Logger
	mu        sync.RWMutex
	onOffline func(userID string)
}

func New(log logging.Logger) *Registry {
	r := &Registry{log: log.With("module", "registry")}
	for i := range r.shards {
		r.shards[i] = &shard{users: make(map[string]map[string]Handle)}
	}
	return r
}

// OnOffline sets a callback invoked when pruning a failed handle takes its
// user offline.
func (r *Registry) OnOffline(fn func(userID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onOffline = fn
}

func (r *Registry) shardFor(userID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return r.shards[h.Sum32()%shardCount]
}

// Register adds h for userID and returns the token identifying this
// session. cameOnline is true when userID had no sessions before.
func (r *Registry) Register(userID string, h Handle) (token string, cameOnline bool) {
	token = uuid.NewString()
	s := r.shardFor(userID)

	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, ok := s.users[userID]
	if !ok {
		sessions = make(map[string]Handle)
		s.users[userID] = sessions
	}
	cameOnline = len(sessions) == 0
	sessions[token] = h
	return token, cameOnline
}

// Unregister removes exactly the session identified by token. It reports
// whether the user has no sessions left as a result. Unknown tokens are a
// no-op.
func (r *Registry) Unregister(userID, token string) (wentOffline bool) {
	s := r.shardFor(userID)

	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, ok := s.users[userID]
	if !ok {
		return false
	}
	if _, ok := sessions[token]; !ok {
		return false
	}
	delete(sessions, token)
	if len(sessions) == 0 {
		delete(s.users, userID)
		return true
	}
	return false
}

func (r *Registry) IsOnline(userID string) bool {
	return r.Sessions(userID) > 0
}

// Sessions returns the number of live sessions for userID.
func (r *Registry) Sessions(userID string) int {
	s := r.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users[userID])
}

// SendTo delivers ev to every session of userID and returns how many
// accepted it. Zero is not an error.
func (r *Registry) SendTo(userID string, ev events.Event) int {
	s := r.shardFor(userID)

	s.mu.RLock()
	targets := make([]target, 0, len(s.users[userID]))
	for token, h := range s.users[userID] {
		targets = append(targets, target{userID: userID, token: token, handle: h})
	}
	s.mu.RUnlock()

	return r.deliver(targets, ev)
}

// Broadcast delivers ev to every live session on this node.
func (r *Registry) Broadcast(ev events.Event) int {
	targets := make([]target, 0)
	for _, s := range r.shards {
		s.mu.RLock()
		for userID, sessions := range s.users {
			for token, h := range sessions {
				targets = append(targets, target{userID: userID, token: token, handle: h})
			}
		}
		s.mu.RUnlock()
	}
	return r.deliver(targets, ev)
}

func (r *Registry) deliver(targets []target, ev events.Event) int {
	delivered := 0
	for _, t := range targets {
		if err := t.handle.Send(ev); err != nil {
			r.log.Warn(context.Background(), "send failed, pruning session",
				"user_id", t.userID, "event", ev.Type, "error", err)
			go r.prune(t.userID, t.token)
			continue
		}
		delivered++
	}
	return delivered
}

func (r *Registry) prune(userID, token string) {
	if !r.Unregister(userID, token) {
		return
	}
	r.mu.RLock()
	fn := r.onOffline
	r.mu.RUnlock()
	if fn != nil {
		fn(userID)
	}
}
