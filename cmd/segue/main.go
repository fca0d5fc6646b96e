// Command segue is the operator CLI for a segue station: it runs workers,
// applies migrations, enqueues jobs, and manages segments and the dead
// letter archive.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
