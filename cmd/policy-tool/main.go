// Command policy-tool inspects and publishes access rule documents.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand(newEnv()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
