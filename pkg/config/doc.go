// Package config loads the archapi daemon configuration.
//
// Values come from, in increasing precedence: Default, the YAML file given
// to Load, environment variables (see Config.ApplyEnv) and command-line
// flags applied by the caller. The robot type may also be detected from the
// first line of a robot type file written when the device was flashed.
package config
