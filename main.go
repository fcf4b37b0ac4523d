// The main package for the monitor executable.
package main

import (
	"github.com/JakeFAU/trizel-monitor/cmd"
)

func main() {
	cmd.Execute()
}
