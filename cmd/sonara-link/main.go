// sonara-link connects third-party services to Sonara: it runs the OAuth
// consent flows, stores the resulting tokens encrypted on the device, and
// keeps them fresh.
package main

import (
	"fmt"
	"os"

	"github.com/sonara-labs/sonara-link/internal/adapters/driving/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
