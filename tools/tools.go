//go:build tools
// +build tools

// Pins oapi-codegen, which apiv1's go:generate runs against api/openapi.yaml.
package tools

import (
	_ "github.com/oapi-codegen/oapi-codegen/v2/cmd/oapi-codegen"
)
