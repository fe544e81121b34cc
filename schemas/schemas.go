// Package schemas embeds the HTTP API description served by apps/server.
package schemas

import _ "embed"

// OpenAPISpec is the OpenAPI 3 document for the treereader server.
//
//go:embed openapi.yaml
var OpenAPISpec []byte
