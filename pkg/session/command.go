package session

import (
	"path/filepath"
	"strings"

	"github.com/kballard/go-shellquote"
)

// OutMount is where the guest writes files it wants the user to take
// away. It is a separate mount from the input file's root.
const OutMount = "/out"

const exportMarker = ".patched"

// ExportFileName derives the exported copy's name from the input
// file's name by inserting a marker before the last extension.
// "app.bin" becomes "app.patched.bin"; extensionless names get the
// marker appended.
func ExportFileName(input string) string {
	base := filepath.Base(input)
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + exportMarker + ext
}

// exportCommand is the engine command instructing the guest to write
// the whole (possibly modified) file to the output mount.
func exportCommand(exportName string) string {
	return shellquote.Join("wtf", OutMount+"/"+exportName)
}

// seekCommand jumps the engine to an address or symbol.
func seekCommand(addr string) string {
	return "s " + addr
}
