// Package configs provides the embedded configuration template for
// foldermcpd.
//
// The template is embedded at build time with go:embed so it ships inside
// the binary regardless of how it was installed. `foldermcpd config reset`
// writes it to ~/.config/foldermcp/config.yaml.
//
// Configuration precedence (see internal/config.Load):
//  1. Hardcoded defaults (internal/config.NewConfig)
//  2. User config (~/.config/foldermcp/config.yaml)
//  3. Environment variables (FOLDERMCP_*)
package configs

import _ "embed"

// UserConfigTemplate is the starting config file, with every section
// present but commented so the defaults stay authoritative.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string
