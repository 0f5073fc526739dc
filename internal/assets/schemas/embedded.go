// Package schemasassets provides embedded JSON schemas for standalone binary behavior.
//
// Schemas are embedded at compile time so config validation works
// regardless of the working directory or installation location.
package schemasassets

import _ "embed"

// LauncherConfigSchema is the embedded launcher config JSON schema.
//
//go:embed launcher-config.schema.json
var LauncherConfigSchema []byte
