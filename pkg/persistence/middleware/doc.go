// Package middleware wraps a ports.SocketStore with cross-cutting behavior.
package middleware
