// Package story contains the capture core: correlation of image and text
// events into panels, and assembly of the panel sequence into a story graph
// of sequentially linked nodes.
package story
