// Package http exposes the presence service over HTTP: the websocket endpoint,
// health and build info, prometheus metrics and a snapshot of open replies.
package http
