package ports

import (
	"context"

	"github.com/metaform/metaform-management/pkg/domain"
)

// SocketStore persists the presence state of live connections.
// Implementations must be safe for concurrent use across different socket ids.
// Writes for a single socket id are serialized by the caller, so no compare-and-swap is needed.
type SocketStore interface {
	// Get retrieves the state for a socket id.
	// Returns domain.ErrStateNotFound if the socket has no stored state.
	Get(ctx context.Context, socketID string) (*domain.PresenceState, error)

	// Set overwrites the full state for a socket id.
	Set(ctx context.Context, socketID string, state *domain.PresenceState) error

	// Remove deletes the state for a socket id. Removing an absent id is not an error.
	Remove(ctx context.Context, socketID string) error

	// List returns a point-in-time snapshot of every stored entry, in no particular order.
	List(ctx context.Context) ([]domain.SocketEntry, error)
}
