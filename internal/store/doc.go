// Package store persists the globally ordered panel sequence and owns the
// assignment of sequence numbers.
package store
