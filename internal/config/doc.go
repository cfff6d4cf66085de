// ABOUTME: Configuration package for the playback binaries
// ABOUTME: Layers defaults, config file, environment and flags with viper
// Package config loads player settings.
//
// Priority, lowest first: built-in defaults, a sendspin.yaml (or .toml,
// .json) config file, SENDSPIN_* environment variables, then explicit
// overrides from the command line. Nested keys use an underscore in the
// environment, so correction.deadband_us is SENDSPIN_CORRECTION_DEADBAND_US.
package config
