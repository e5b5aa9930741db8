// Package pending holds image references awaiting a matching text message
// from the same room and author within the correlation window.
package pending
