// Package config loads and validates scriptreel configuration.
//
// Settings live in a TOML file (default ~/.config/scriptreel/config.toml).
// Secrets may instead come from the environment or a .env file placed next
// to the working directory; environment values always win over the file.
package config
