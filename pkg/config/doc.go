// Package config loads the engine's YAML configuration file into an
// evaluator.Options plus the surrounding daemon settings (data directory,
// gateway URL, listen addresses), generalizing the teacher's pattern of a
// plain struct built from cobra flags into one also loadable from YAML.
package config
