/*
Package metaform is the real-time editing presence service of the metaform management
front end.

Browser tabs keep a websocket open while a user works on form replies. When a tab opens
a reply for editing every other tab is told the reply is locked; when it closes the reply
or goes away, the reply is announced as unlocked. Tabs that connect later are caught up
with every reply currently open elsewhere.

# Architecture

The authoritative state is one small record per connection (its open replies) kept in a
pluggable store: memory, a relational table (sqlite or mysql), redis, or JSON files. Any
number of processes can share a store; with the redis bus enabled each broadcast reaches
the tabs of every process.

	websocket.Hub ──events──▶ presence.Coordinator ──▶ ports.SocketStore
	      ▲                          │
	      └──────notifications───────┘ (directly or through the redis bus)

# Usage

	cfg, err := config.LoadFile("metaform.yaml")
	if err != nil {
		log.Fatal(err)
	}

	svc, err := metaform.Open(ctx, cfg, metaform.WithLogger(logger))
	if err != nil {
		log.Fatal(err)
	}
	defer svc.Close()

	// Blocks until ctx is cancelled, then shuts down gracefully.
	if err := svc.Run(ctx); err != nil {
		log.Fatal(err)
	}
*/
package metaform
