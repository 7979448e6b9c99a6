package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/raaihank/sentinel-mask/internal/config"
	"github.com/raaihank/sentinel-mask/internal/logger"
	"github.com/raaihank/sentinel-mask/internal/privacy"
	"go.uber.org/zap"
)

// ErrInvalidID is returned for conversation ids that cannot be embedded in a
// token scope.
var ErrInvalidID = errors.New("invalid conversation id")

// conversation holds the mask maps of one conversation, oldest turn first.
type conversation struct {
	turns    []turn
	next     int
	pending  map[string]bool
	lastSeen time.Time
}

type turn struct {
	scope string
	maps  privacy.MaskMap
}

// Info describes a conversation without exposing its maps.
type Info struct {
	ID       string    `json:"id"`
	Turns    int       `json:"turns"`
	Tokens   int       `json:"tokens"`
	LastSeen time.Time `json:"last_seen"`
}

// Store keeps per-turn mask maps in memory so that a later reply can be
// unmasked against every earlier turn. Nothing is written to disk.
type Store struct {
	mu            sync.Mutex
	conversations map[string]*conversation
	ttl           time.Duration
	maxTurns      int
	logger        *logger.Logger
	now           func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewStore creates an empty session store
func NewStore(cfg config.SessionConfig, log *logger.Logger) *Store {
	if log == nil {
		log = logger.NewNop()
	}
	return &Store{
		conversations: make(map[string]*conversation),
		ttl:           cfg.TTL,
		maxTurns:      cfg.MaxTurns,
		logger:        log.WithComponent("session"),
		now:           time.Now,
		stop:          make(chan struct{}),
	}
}

// NextScope reserves the next turn of a conversation and returns the scope to
// mask it with. Scopes are <id>-t<n> with n counting from 1.
func (s *Store) NextScope(id string) (string, error) {
	if id == "" {
		return "", ErrInvalidID
	}
	if err := privacy.ValidateScope(id); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.conversations[id]
	if c == nil || s.expired(c) {
		c = &conversation{pending: make(map[string]bool)}
		s.conversations[id] = c
	}
	c.next++
	c.lastSeen = s.now()

	scope := fmt.Sprintf("%s-t%d", id, c.next)
	c.pending[scope] = true
	return scope, nil
}

// Append stores the mask map produced for a turn reserved with NextScope.
// Only the newest maxTurns turns are retained. The map is dropped, and false
// returned, when the conversation was forgotten or expired after the scope
// was reserved, so a restarted conversation never inherits it.
func (s *Store) Append(id, scope string, mm privacy.MaskMap) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.conversations[id]
	if c == nil || s.expired(c) || !c.pending[scope] {
		s.logger.Debug("Dropped mask map of unknown turn",
			zap.String("conversation_id", id),
			zap.String("scope", scope))
		return false
	}
	delete(c.pending, scope)
	c.turns = append(c.turns, turn{scope: scope, maps: mm.Clone()})
	c.lastSeen = s.now()

	if s.maxTurns > 0 && len(c.turns) > s.maxTurns {
		dropped := len(c.turns) - s.maxTurns
		c.turns = append([]turn(nil), c.turns[dropped:]...)
		s.logger.Debug("Dropped oldest conversation turns",
			zap.String("conversation_id", id),
			zap.Int("dropped", dropped))
	}
	return true
}

// Maps returns copies of the stored mask maps, oldest turn first. Unknown or
// expired conversations yield nil.
func (s *Store) Maps(id string) []privacy.MaskMap {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.conversations[id]
	if c == nil || s.expired(c) {
		return nil
	}
	c.lastSeen = s.now()

	out := make([]privacy.MaskMap, 0, len(c.turns))
	for _, t := range c.turns {
		out = append(out, t.maps.Clone())
	}
	return out
}

// Forget drops a conversation. It reports whether one existed.
func (s *Store) Forget(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.conversations[id]
	delete(s.conversations, id)
	return ok
}

// List describes live conversations ordered by id.
func (s *Store) List() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Info, 0, len(s.conversations))
	for id, c := range s.conversations {
		if s.expired(c) {
			continue
		}
		tokens := 0
		for _, t := range c.turns {
			tokens += t.maps.Len()
		}
		out = append(out, Info{ID: id, Turns: len(c.turns), Tokens: tokens, LastSeen: c.lastSeen})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of tracked conversations, expired ones included
// until the next cleanup.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conversations)
}

// Cleanup removes expired conversations and returns how many were removed.
func (s *Store) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, c := range s.conversations {
		if s.expired(c) {
			delete(s.conversations, id)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Debug("Expired conversations removed", zap.Int("removed", removed))
	}
	return removed
}

// Start runs Cleanup periodically until Close is called.
func (s *Store) Start(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.Cleanup()
			case <-s.stop:
				return
			}
		}
	}()
}

// Close stops the cleanup goroutine.
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}

func (s *Store) expired(c *conversation) bool {
	return s.ttl > 0 && s.now().Sub(c.lastSeen) > s.ttl
}
