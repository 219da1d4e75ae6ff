// Package config loads the syncd YAML file.
//
// Values may reference the environment with ${VAR}; references are expanded
// before parsing, so secrets such as journal.password can stay out of the
// file. Unknown keys are an error. See configs/syncd.example.yaml for every
// option and its default.
package config
