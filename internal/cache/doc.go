// Package cache implements the dependency cache: a persistent mapping from a
// (key, flag set) pair to the scalar value a setup task produced, such as
// an install directory or a version string.
//
// Flags are normalized (sorted, de-duplicated) when a key is built, so
// lookups do not depend on the order in which features request them. The
// setup runner is the only writer; the run pipeline only reads.
package cache
