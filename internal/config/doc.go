// Package config loads the runtime's single typed configuration
// document: connection (tool server list), llm (provider/model/sampling
// params), agent (retry/timeout/context knobs), and ui (REPL mode).
//
// # Loading
//
// Load reads, in priority order (lowest to highest):
//
//  1. A YAML file at the given path, if the path is non-empty (a
//     non-empty path to a file that does not exist is an error).
//  2. Environment variable overrides: LLM_API_KEY, LLM_PROVIDER,
//     LLM_MODEL, SURROGATE_POLICY.
//
// Unknown top-level keys in the YAML file are rejected — Load uses a
// strict viper unmarshal pass so a typo in a config file fails loudly
// at startup instead of silently doing nothing.
//
// # Paths
//
// Paths follows the XDG Base Directory layout for the on-disk session
// store root and the default config file location, matching the
// convention the REPL and one-shot CLI both expect.
package config
