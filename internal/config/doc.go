// Package config loads and validates the storymaker configuration file.
package config
