// Command saferoute is the offline companion of the route server: it
// converts road graphs, validates and imports hazard zones, and computes
// routes from the command line.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
