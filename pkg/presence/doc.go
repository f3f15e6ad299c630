/*
Package presence implements the real-time editing presence coordinator.

It tracks which replies each live connection has open, persists that state in a
pluggable ports.SocketStore, and announces reply:locked / reply:unlocked through a
ports.Transport.

# Connection lifecycle

	CONNECTING --Connect--> ACTIVE --Disconnect--> CLOSED

  - Connect stores an empty state and replays every other connection's open replies
    to the new client only.
  - Opened / Closed update the connection's own state and broadcast to every client.
    Nothing is broadcast when the update cannot be persisted.
  - Disconnect unlocks everything the connection had open and removes its state.

Events for one connection are serialized by a reference-counted per-connection lock;
connections never block each other.

A Reconciler can remove entries left behind by connections that vanished without a
disconnect.
*/
package presence
