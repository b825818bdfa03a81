// Package config loads overlayd configuration.
//
// Values are layered: Default, then an optional YAML or TOML file, then
// OVERLAY_* environment variables. Nested sections map to underscored
// names, so Bridge.EvalTimeout is OVERLAY_BRIDGE_EVAL_TIMEOUT.
package config
