// Package config loads server configuration from TROVE_* environment
// variables and validates it before startup.
package config
