// Package ui embeds the single-page map client.
package ui

import "embed"

//go:embed dist
var DistFS embed.FS
