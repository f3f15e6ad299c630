package presence_test

import (
	"context"
	"errors"
	"sync"

	"github.com/metaform/metaform-management/pkg/adapters/memory"
	"github.com/metaform/metaform-management/pkg/domain"
)

type sent struct {
	To string // empty for broadcasts
	N  domain.Notification
}

// recordingTransport captures every notification.
// sendErr, when set, fails every unicast after recording the attempt.
type recordingTransport struct {
	mu      sync.Mutex
	log     []sent
	sendErr error
}

func (t *recordingTransport) Send(ctx context.Context, socketID string, n domain.Notification) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.log = append(t.log, sent{To: socketID, N: n})
	return t.sendErr
}

func (t *recordingTransport) Broadcast(ctx context.Context, n domain.Notification) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.log = append(t.log, sent{N: n})
	return nil
}

func (t *recordingTransport) unicasts(to string) []domain.Notification {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []domain.Notification
	for _, s := range t.log {
		if s.To == to {
			out = append(out, s.N)
		}
	}
	return out
}

func (t *recordingTransport) broadcasts() []domain.Notification {
	return t.unicasts("")
}

func (t *recordingTransport) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.log = nil
}

var errBackend = errors.New("backend down")

// flakyStore wraps a memory store and fails selected operations on demand.
type flakyStore struct {
	*memory.Store
	mu       sync.Mutex
	failGet  bool
	failSet  bool
	failList bool
	failRm   bool
}

func newFlakyStore() *flakyStore {
	return &flakyStore{Store: memory.NewStore()}
}

func (f *flakyStore) fail(get, set, list, rm bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failGet, f.failSet, f.failList, f.failRm = get, set, list, rm
}

func (f *flakyStore) unavailable() error {
	return errors.Join(domain.ErrStoreUnavailable, errBackend)
}

func (f *flakyStore) Get(ctx context.Context, id string) (*domain.PresenceState, error) {
	f.mu.Lock()
	fail := f.failGet
	f.mu.Unlock()
	if fail {
		return nil, f.unavailable()
	}
	return f.Store.Get(ctx, id)
}

func (f *flakyStore) Set(ctx context.Context, id string, s *domain.PresenceState) error {
	f.mu.Lock()
	fail := f.failSet
	f.mu.Unlock()
	if fail {
		return f.unavailable()
	}
	return f.Store.Set(ctx, id, s)
}

func (f *flakyStore) List(ctx context.Context) ([]domain.SocketEntry, error) {
	f.mu.Lock()
	fail := f.failList
	f.mu.Unlock()
	if fail {
		return nil, f.unavailable()
	}
	return f.Store.List(ctx)
}

func (f *flakyStore) Remove(ctx context.Context, id string) error {
	f.mu.Lock()
	fail := f.failRm
	f.mu.Unlock()
	if fail {
		return f.unavailable()
	}
	return f.Store.Remove(ctx, id)
}
