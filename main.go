// The main package for the storefront-watch executable.
package main

import (
	"github.com/JakeFAU/storefront-watch/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
