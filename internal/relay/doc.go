// Package relay is the boundary between the agent and the relay service that
// publishes its tunnels.
//
// # Core Interfaces
//
// Backend establishes a Session. A Session opens Tunnels from an
// EndpointConfig and closes them again. A Tunnel yields one Connection per
// inbound public connection through Accept.
//
// Every physical dial goes through a Connector, so callers can substitute
// their own transport or veto a reconnect. A Connector that returns an error
// satisfying IsCanceled shuts the session down instead of retrying.
//
// # Backends
//
// MemoryBackend keeps everything in process. It backs local mode and tests,
// and exposes Dial and SimulateDisconnect to drive tunnels from the outside.
//
// WebSocketBackend carries a yamux session over a websocket to a Server.
// The first stream is a JSON control channel; every other stream is one
// public connection, prefixed with the id of its tunnel.
//
// AzureBackend creates one Azure Relay hybrid connection per tunnel and
// listens on it with an AzureListener.
//
// # Usage Example
//
//	backend := relay.NewMemoryBackend()
//	sess, err := backend.Connect(ctx, relay.SessionOptions{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer sess.Close(ctx)
//
//	tun, err := sess.Open(ctx, relay.EndpointConfig{Kind: relay.KindTCP})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	conn, err := tun.Accept(ctx)
package relay
