package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/metaform/metaform-management/internal/logging"
	"github.com/metaform/metaform-management/pkg/domain"
)

// DefaultDir is used when New is given an empty path.
var DefaultDir = filepath.Join(".metaform", "sockets")

// Store implements ports.SocketStore using the local filesystem.
// Each connection is one JSON file, so several processes on one host can share it.
type Store struct {
	BasePath string
	logger   *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger reports files skipped while listing.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a new Store with the given base path.
// If basePath is empty, it defaults to ".metaform/sockets".
func New(basePath string, opts ...Option) *Store {
	if basePath == "" {
		basePath = DefaultDir
	}
	s := &Store{BasePath: basePath, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) path(socketID string) (string, error) {
	if socketID == "" || strings.ContainsAny(socketID, `/\`) || socketID == "." || socketID == ".." {
		return "", fmt.Errorf("invalid socket id %q", socketID)
	}
	return filepath.Join(s.BasePath, socketID+".json"), nil
}

// Set writes the state to a temporary file, syncs it and renames it into place.
func (s *Store) Set(ctx context.Context, socketID string, state *domain.PresenceState) error {
	destPath, err := s.path(socketID)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(s.BasePath, 0755); err != nil {
		return fmt.Errorf("%w: failed to ensure socket directory: %w", domain.ErrStoreUnavailable, err)
	}

	data, err := json.Marshal(state.Clone())
	if err != nil {
		return fmt.Errorf("failed to marshal presence state: %w", err)
	}

	// Same directory as the destination, so the rename stays on one filesystem.
	tmpFile, err := os.CreateTemp(s.BasePath, "tmp-"+socketID+"-*.json.partial")
	if err != nil {
		return fmt.Errorf("%w: failed to create temp file: %w", domain.ErrStoreUnavailable, err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("%w: failed to write temp file: %w", domain.ErrStoreUnavailable, err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("%w: failed to fsync temp file: %w", domain.ErrStoreUnavailable, err)
	}
	// Windows cannot rename an open file.
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("%w: failed to close temp file: %w", domain.ErrStoreUnavailable, err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("%w: failed to rename temp file: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// Get reads the state file.
func (s *Store) Get(ctx context.Context, socketID string) (*domain.PresenceState, error) {
	filePath, err := s.path(socketID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrStateNotFound
		}
		return nil, fmt.Errorf("%w: failed to read socket file: %w", domain.ErrStoreUnavailable, err)
	}
	return decode(data)
}

// Remove deletes the state file.
func (s *Store) Remove(ctx context.Context, socketID string) error {
	filePath, err := s.path(socketID)
	if err != nil {
		return err
	}

	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: failed to delete socket file: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// List reads every state file in the directory. Unreadable files are skipped.
func (s *Store) List(ctx context.Context) ([]domain.SocketEntry, error) {
	dirEntries, err := os.ReadDir(s.BasePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []domain.SocketEntry{}, nil
		}
		return nil, fmt.Errorf("%w: failed to list sockets: %w", domain.ErrStoreUnavailable, err)
	}

	entries := []domain.SocketEntry{}
	for _, entry := range dirEntries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" || strings.HasPrefix(name, "tmp-") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")

		state, err := s.Get(ctx, id)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrStateNotFound):
			// Removed between ReadDir and Get.
			continue
		case errors.Is(err, domain.ErrCorruptState):
			s.logger.Warn("Skipping unreadable socket state", "socket_id", id, "err", err)
			continue
		default:
			return nil, err
		}
		entries = append(entries, domain.SocketEntry{SocketID: id, State: state})
	}
	return entries, nil
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
