// Package speaker detects speaker labels in free-form chat text using an
// ordered, configurable set of matching rules.
package speaker
