// Package logging provides the single package-level structured logger
// used across xdploader, in the field-logger style
// jra3-system-agent's CoreManager uses around cilium/ebpf's BTF loader
// (component name + key/value fields, not format-string interpolation).
package logging

import "github.com/sirupsen/logrus"

// Logger is the shared entry point; callers attach a "component" field
// before logging, mirroring how multi-package services in this ecosystem
// scope a single root logger.
var Logger = logrus.StandardLogger()

// WithComponent returns an entry scoped to component, e.g. "loader" or
// "reloc".
func WithComponent(component string) *logrus.Entry {
	return Logger.WithField("component", component)
}

// SetLevel parses level (e.g. "debug", "info", "warn") and applies it to
// the shared logger. An unparseable level leaves the logger unchanged and
// returns the parse error.
func SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	Logger.SetLevel(lvl)
	return nil
}
