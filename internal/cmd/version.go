package cmd

// Version is the swarm CLI version, overridable at build time with
// -ldflags "-X github.com/steveyegge/swarm/internal/cmd.Version=...".
var Version = "0.3.0"
