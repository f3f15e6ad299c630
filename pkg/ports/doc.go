/*
Package ports defines the driven ports (interfaces) of the presence service.

These interfaces decouple the coordinator from concrete storage backends and transports,
so a connection's state can live in memory, in a relational table or in a key-value store
without touching the coordinator.

# Key Interfaces

  - SocketStore: persists the presence state of each live connection.
  - Transport: unicast and broadcast of lock notifications to clients.
  - Bus: cross-process fan-out of broadcasts.
  - MigrationLocker: startup mutual exclusion for schema migrations.
*/
package ports
