// Package main is the single-binary entrypoint for a node-fabric node.
package main

import "github.com/mabou7agar/nodefabric/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
