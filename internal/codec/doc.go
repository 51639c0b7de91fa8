// Package codec turns "run handler X with arguments A later" into a storable
// payload and back.
//
// Handlers are registered by name in a Registry before any job referencing them
// is scheduled or restored. Only the handler name and a JSON argument document
// are persisted, so a restored job calls whatever function is registered under
// that name in the current process.
package codec
