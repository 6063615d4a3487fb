// Package logging configures slog output for scriptreel.
//
// Two handler formats are supported: a compact console form for interactive
// use and JSON for log shipping. Helper constructors keep attribute keys
// consistent across packages.
package logging
