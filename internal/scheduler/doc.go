// Package scheduler runs named handlers once, after a delay or at a set time,
// and keeps those registrations in a store so they survive restarts and
// connection loss.
//
// Every (re)connect restores the namespace: future jobs are re-armed for
// their remaining offset, past-due jobs run immediately, and records whose
// action no longer decodes are purged.
package scheduler
