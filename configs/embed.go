// Package configs embeds the configuration template written by
// `searchsync config init`.
package configs

import _ "embed"

// UserConfigTemplate is the commented user configuration.
//
//go:embed searchsync.example.yaml
var UserConfigTemplate string
