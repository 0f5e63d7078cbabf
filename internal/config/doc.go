// Package config loads, normalizes, and validates the WaveQ configuration.
//
// Settings come from a TOML file (see sample_config.toml) layered over
// repository defaults, with a handful of environment overrides for secrets
// and connection strings. A .env file in the working directory is honored so
// deployments can keep secrets out of the TOML file.
package config
