// Package config loads the nested Store/Placement/Reconciler configuration
// that wires up the three core components, from a YAML file with
// environment-variable overrides layered on top.
package config
