// Command login-consent serves the login-and-consent pages of an OAuth2
// authorization code flow and ships the operator helpers around it.
package main

import (
	"os"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
