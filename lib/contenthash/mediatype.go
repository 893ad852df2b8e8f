// Copyright 2026 The Carton Authors
// SPDX-License-Identifier: Apache-2.0

package contenthash

import (
	"path/filepath"
	"strings"
)

// OctetStream is the fallback media type for extensions the table
// does not know.
const OctetStream = "application/octet-stream"

// mediaTypes maps lowercase file extensions to declared media types.
// This is a fixed table, not a sniffing pass: the declared type is
// metadata for consumers, and two sources declaring different types
// for identical bytes is an error the assembler catches, so the
// mapping must be deterministic.
var mediaTypes = map[string]string{
	".css":  "text/css",
	".gif":  "image/gif",
	".gz":   "application/gzip",
	".htm":  "text/html",
	".html": "text/html",
	".jpeg": "image/jpeg",
	".jpg":  "image/jpeg",
	".js":   "text/javascript",
	".json": "application/json",
	".md":   "text/markdown",
	".pdf":  "application/pdf",
	".png":  "image/png",
	".svg":  "image/svg+xml",
	".tar":  "application/x-tar",
	".toml": "application/toml",
	".txt":  "text/plain",
	".wasm": "application/wasm",
	".wat":  "text/plain",
	".xml":  "application/xml",
	".yaml": "application/yaml",
	".yml":  "application/yaml",
	".zip":  "application/zip",
}

// MediaTypeForPath returns the declared media type for a file path
// based on its extension, falling back to [OctetStream] for unknown
// extensions.
func MediaTypeForPath(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if mediaType, ok := mediaTypes[ext]; ok {
		return mediaType
	}
	return OctetStream
}
