// Package configs embeds the commented configuration templates written by
// `zepindex config init`.
//
// Precedence when loading (see internal/config Load):
//  1. Hardcoded defaults (config.NewConfig)
//  2. User config (~/.config/zep/config.yaml)
//  3. Project config (.zep.yaml)
//  4. Environment variables (ZEP_*)
package configs

import _ "embed"

// UserConfigTemplate holds machine-wide settings: logging, the data
// directory and the shared queue store.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string

// ProjectConfigTemplate holds the backends and indexed details of one
// deployment.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
