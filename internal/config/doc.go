// Package config loads and validates the meshd YAML configuration,
// expanding ${VAR} environment references and parsing duration strings.
package config
