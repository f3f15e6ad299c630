package middleware

import "github.com/metaform/metaform-management/pkg/ports"

// Middleware allows wrapping a SocketStore to add behavior.
type Middleware func(ports.SocketStore) ports.SocketStore

// Chain applies middlewares so the first one is the outermost.
func Chain(store ports.SocketStore, mws ...Middleware) ports.SocketStore {
	for i := len(mws) - 1; i >= 0; i-- {
		store = mws[i](store)
	}
	return store
}
