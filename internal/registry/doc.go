// Package registry provides the central "glue" for the module system.
//
// The Registry is built once at startup by calling Register on every
// compiled-in module. Modules contribute setup tasks, features and pipeline
// components (frontends, backends, compilers and targets). Nothing registers
// itself implicitly; the application decides which modules exist.
//
// After registration the registry is validated so that a task requiring an
// unknown cache key, a component declaring an unknown feature or a task
// cycle is caught before any command runs.
package registry
