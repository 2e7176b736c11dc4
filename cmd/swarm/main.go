// swarm is the CLI for managing AI-agent workers, ralph loops, and
// heartbeats.
package main

import (
	"os"

	"github.com/steveyegge/swarm/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
