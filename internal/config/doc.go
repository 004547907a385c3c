// Package config loads, normalizes, and validates the TOML configuration
// shared by the glossa CLI and the glossad daemon. Defaults come first, a
// config file (explicit path, ~/.config/glossa/config.toml, or ./glossa.toml)
// overrides them, and normalization expands paths and clamps timing values.
package config
