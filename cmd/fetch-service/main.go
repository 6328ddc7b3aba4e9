// Command fetch-service runs the cron-scheduled fetch daemon: it loads a
// rule config, spawns an isolated worker per due rule, and reschedules,
// until SIGINT/SIGTERM, mirroring original_source/fetch/scripts/service.py
// (spec.md §6 CLI).
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

	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <config.yaml>\n", os.Args[0])
		os.Exit(1)
	}

	sup, err := supervisor.New(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "fetch-service: %v\n", err)
		os.Exit(1)
	}

	if err := sup.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "fetch-service: %v\n", err)
		os.Exit(1)
	}
}
