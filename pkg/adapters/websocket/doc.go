// Package websocket is the transport shim between browser tabs and the presence
// coordinator.
//
// Every connection gets a UUID, one read goroutine that hands inbound frames to the
// Handler in arrival order, and one write goroutine draining a bounded queue.
// Unicasts wait for room in the queue. A broadcast that finds the queue full closes
// the connection instead, so the client reconnects and receives a fresh catch-up.
// Frames are JSON:
//
//	-> {"event":"reply:opened","data":{"replyId":"rep1"}}
//	<- {"event":"reply:locked","data":"rep1"}
package websocket
