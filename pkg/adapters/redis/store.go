package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/metaform/metaform-management/internal/logging"
	"github.com/metaform/metaform-management/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// Store implements ports.SocketStore using Redis.
// Each connection is kept under "<prefix>socket-<id>" with no expiry.
// Redis has no cheap "list keys by prefix", so active ids are also tracked in an index set.
type Store struct {
	client *backend.Client
	prefix string
	logger *slog.Logger
}

type Option func(*Store)

// WithLogger reports entries skipped while listing.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithPrefix namespaces every key written by the store.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a new Redis store from a redis:// URL.
func New(url string, opts ...Option) (*Store, error) {
	parsed, err := backend.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return NewFromClient(backend.NewClient(parsed), opts...), nil
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		logger: logging.NewNop(),
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

func (s *Store) key(socketID string) string {
	return s.prefix + "socket-" + socketID
}

func (s *Store) indexKey() string {
	return s.prefix + "sockets"
}

// Set persists the state and records the id in the index, atomically.
func (s *Store) Set(ctx context.Context, socketID string, state *domain.PresenceState) error {
	data, err := json.Marshal(state.Clone())
	if err != nil {
		return fmt.Errorf("failed to marshal presence state: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(socketID), data, 0)
	pipe.SAdd(ctx, s.indexKey(), socketID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: failed to save to redis: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// Get retrieves the state from Redis.
func (s *Store) Get(ctx context.Context, socketID string) (*domain.PresenceState, error) {
	val, err := s.client.Get(ctx, s.key(socketID)).Bytes()
	if err != nil {
		if err == backend.Nil {
			return nil, domain.ErrStateNotFound
		}
		return nil, fmt.Errorf("%w: failed to get from redis: %w", domain.ErrStoreUnavailable, err)
	}
	return decode(val)
}

// Remove deletes the state and its index entry.
func (s *Store) Remove(ctx context.Context, socketID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key(socketID))
	pipe.SRem(ctx, s.indexKey(), socketID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: failed to delete from redis: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// List reads the index and fetches every entry in one round trip.
// Index members whose key has disappeared are pruned lazily. Entries that cannot be
// decoded are skipped.
func (s *Store) List(ctx context.Context) ([]domain.SocketEntry, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read socket index: %w", domain.ErrStoreUnavailable, err)
	}
	if len(ids) == 0 {
		return []domain.SocketEntry{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to fetch socket states: %w", domain.ErrStoreUnavailable, err)
	}

	entries := make([]domain.SocketEntry, 0, len(ids))
	var orphans []any
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			orphans = append(orphans, ids[i])
			continue
		}
		state, err := decode([]byte(raw))
		if err != nil {
			s.logger.Warn("Skipping unreadable socket state", "socket_id", ids[i], "err", err)
			continue
		}
		entries = append(entries, domain.SocketEntry{SocketID: ids[i], State: state})
	}

	if len(orphans) > 0 {
		// Best effort; a failed prune is retried on the next listing.
		_ = s.client.SRem(ctx, s.indexKey(), orphans...).Err()
	}

	return entries, nil
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

func decode(data []byte) (*domain.PresenceState, error) {
	var state domain.PresenceState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCorruptState, err)
	}
	if state.OpenReplies == nil {
		state.OpenReplies = []string{}
	}
	return &state, nil
}
