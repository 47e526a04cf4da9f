// Package static embeds the generation page.
package static

import (
	"embed"
	"io/fs"
)

//go:embed index.html css js
var files embed.FS

// FS returns the embedded assets rooted at the page directory.
func FS() fs.FS {
	return files
}
