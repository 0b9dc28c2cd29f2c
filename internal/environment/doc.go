// Package environment resolves and loads the active environment: a home
// directory holding installed dependencies, scratch space, model
// directories and an `environment.hcl` file with defaults and variables.
//
// The home is taken from an explicit --home/--hint value, then from the
// MCUBENCH_HOME variable, then from the default environment in the user's
// config directory.
package environment
