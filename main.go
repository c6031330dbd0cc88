package main

import (
	"github.com/shuttle-bridge/shuttle/node/cmd"
)

// main calls the rootCmd.
func main() {
	cmd.Execute()
}
