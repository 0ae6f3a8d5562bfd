// Package main is the entrypoint for the Ascend progression engine.
package main

import "github.com/ascend-academy/ascend/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
