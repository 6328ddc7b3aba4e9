// Command fetch-now triggers a fixed list of named rules exactly once and
// waits for them to finish, mirroring
// original_source/fetch/scripts/now.py (spec.md §6 CLI's "run-items" path).
package main

import (
	"fmt"
	"os"

	"github.com/oceanfetch/fetchd/internal/supervisor"
)

func main() {
	if code, handled := supervisor.MaybeRunWorker(); handled {
		os.Exit(code)
	}

	if len(os.Args) < 3 {
		fmt.Fprintf(os.Stderr, "usage: %s <config.yaml> <rule-name>...\n", os.Args[0])
		os.Exit(1)
	}

	sup, err := supervisor.New(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "fetch-now: %v\n", err)
		os.Exit(1)
	}

	if err := sup.RunItems(os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "fetch-now: %v\n", err)
		os.Exit(1)
	}
}
