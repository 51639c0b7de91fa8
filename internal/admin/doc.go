// Package admin exposes one scheduler over a small HTTP API so the CLI can
// manage jobs of a running daemon without opening the store itself.
//
// Routes:
//   - POST   /jobs        add a job (id, handler, args, delay or at)
//   - GET    /jobs        list jobs ordered by should_run
//   - GET    /jobs/{id}   one job
//   - DELETE /jobs/{id}   remove a job
//   - DELETE /jobs        clean the namespace
//   - GET    /status      scheduler snapshot
//   - GET    /healthz     liveness, unauthenticated
package admin
