// Package web embeds the board plugin page for single-binary distribution.
package web

import (
	"embed"
	"io/fs"
)

//go:embed all:static
var assets embed.FS

// Assets returns the plugin page rooted at its index.html.
func Assets() fs.FS {
	sub, err := fs.Sub(assets, "static")
	if err != nil {
		panic(err)
	}
	return sub
}
