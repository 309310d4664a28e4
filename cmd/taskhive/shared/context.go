// Package shared holds the context passed to all CLI commands.
package shared

// Context carries global CLI state (flags set on the root command).
type Context struct {
	// HiveHome overrides the hive home directory.
	// When empty, resolution falls through to TASKHIVE_HOME env var → persisted config → ~/.taskhive.
	HiveHome string
}
