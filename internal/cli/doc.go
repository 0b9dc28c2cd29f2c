// Package cli is responsible for parsing command-line arguments, validating
// user input, and handling process-level concerns like exit codes. It
// translates the global flags, the subcommand and its flags into the
// application's configuration.
package cli
