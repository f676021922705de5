// oca builds, validates and publishes OCA bundles from ocafiles.
//
// It resolves the refn references between ocafiles into a dependency graph,
// compiles every file into a content-addressed artifact, keeps the results
// in a local repository and uploads them to a remote OCA repository.
package main

import (
	"fmt"
	"os"

	"github.com/Benny93/oca-go/cmd"
)

func main() {
	cli := cmd.NewCLI()

	if err := cli.Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
