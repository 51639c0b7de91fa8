// Package handlers holds the built-in job handlers the daemon registers at
// startup:
//
//	log.message   {"text": "...", "level": "info"}
//	webhook.post  {"url": "https://...", "body": {...}, "headers": {...}}
//
// Arguments are validated when a job is scheduled, so a malformed job is
// rejected by AddJob instead of failing when it fires.
package handlers
