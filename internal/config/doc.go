// Package config holds the run configuration model: a flat map of
// dot-namespaced keys (`<component>.<key>`) to scalar values.
//
// Components never read the raw map. They receive a filtered view produced by
// Filter, which strips the component prefix, fills declared defaults and warns
// about keys the component does not know. Keys that a component requires from
// the dependency cache are resolved up front with ResolveRequired so that a
// missing toolchain is reported when the component is constructed, never
// while a stage is executing.
package config
