// The main package for the sitetree-crawler executable.
package main

import (
	"github.com/JakeFAU/sitetree-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
