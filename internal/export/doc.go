// Package export writes the two persisted artifacts: the append-only panel
// log and the fully rewritten story document.
package export
