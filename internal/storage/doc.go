// Package storage is the persistence collaborator for scheduled jobs.
//
// It provides:
//   - Store, the driver-level contract (unique insert, namespace-scoped find/delete, ping)
//   - drivers: "redis" (networked), "sqlite", "file" (snapshot + journal), "memory"
//   - JobStore, the readiness-gated CRUD facade the scheduler talks to
package storage
