// Package assets resolves paired images into public URLs by uploading
// their bytes to the configured image host.
package assets
