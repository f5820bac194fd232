// Package config provides configuration loading and validation for the voice
// recording service. It handles YAML-based configuration with per-section
// struct validation and typed duration accessors.
package config
