// Package browser hands authorization URLs to the system browser.
package browser

import (
	"fmt"
	"os/exec"
	"runtime"

	"github.com/sonara-labs/sonara-link/internal/core/ports/driven"
)

// Ensure Opener implements the interface.
var _ driven.BrowserOpener = (*Opener)(nil)

// Opener opens URLs in the user's default browser.
type Opener struct{}

// NewOpener creates a system browser opener.
func NewOpener() *Opener {
	return &Opener{}
}

// Open launches the default browser at the given URL.
func (o *Opener) Open(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	return cmd.Start()
}
