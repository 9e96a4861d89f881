// Package config loads the server configuration: a YAML file over built-in
// defaults, with CLI flags overlaid by the caller. It resolves the
// effective image-backend pool, including the single-backend local mode.
package config
