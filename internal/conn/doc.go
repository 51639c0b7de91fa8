// Package conn owns the store connection lifecycle: bounded initial connect,
// health probing, unbounded reconnect, and the readiness flag that gates
// scheduling operations.
package conn
