// Package bridge connects the Matrix transport to the capture core,
// translating room messages into photo and text events.
package bridge
