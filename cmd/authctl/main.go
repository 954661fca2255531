// Command authctl registers, logs in and inspects the current session
// against an auth-starter server.
package main

import (
	"os"
)

var version = "dev"

func main() {
	cmd := NewRootCmd()
	cmd.Version = version

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
