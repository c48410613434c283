// Command gatewayd is the gateway's public HTTP entrypoint: the OAuth
// protocol engine, the session login bridge, the API-key subsystem, and
// the admin bypass surface, all behind one net/http server. It generalizes
// the teacher's cmd/dex main.go/serve.go: a spf13/cobra root command, a
// YAML config file loaded and validated up front, an oklog/run.Group
// running the web and telemetry listeners side by side with graceful
// shutdown on SIGINT/SIGTERM.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := commandRoot().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
