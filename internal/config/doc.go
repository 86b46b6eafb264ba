// Package config loads loopchat configuration from YAML with ${ENV_VAR}
// expansion and duration-string parsing. Missing files fall back to
// Default(), which targets a local runtime at localhost:8000 with the
// "agent" assistant.
package config
