package ports

import (
	"context"

	"github.com/metaform/metaform-management/pkg/domain"
)

// Transport delivers notifications to connected clients.
type Transport interface {
	// Send delivers a notification to one connection.
	Send(ctx context.Context, socketID string, n domain.Notification) error

	// Broadcast delivers a notification to every connected client, on every instance.
	Broadcast(ctx context.Context, n domain.Notification) error
}

// Bus fans broadcasts out across server processes.
// Every subscriber receives every published notification, including the publisher's own.
type Bus interface {
	Publish(ctx context.Context, n domain.Notification) error

	// Subscribe blocks, invoking fn for each received notification, until ctx is done.
	Subscribe(ctx context.Context, fn func(domain.Notification)) error
}

// LiveSet reports which socket ids currently have a live transport connection.
type LiveSet interface {
	Alive(socketID string) bool
}
