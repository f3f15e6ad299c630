/*
Package domain contains the core models of the reply presence service.

It defines what a connection has open, the notifications that travel to clients,
and the event names of the real-time surface. The package is kept free of I/O so that
stores, transports and the coordinator can share it without importing each other.

# Key Entities

  - PresenceState: the ordered set of replies one live connection has open.
  - SocketEntry: a stored (connection id, presence state) pair, as returned by listings.
  - Notification: an outbound reply:locked / reply:unlocked message.
  - InboundEvent: a decoded reply:opened / reply:closed message from a client.
*/
package domain
