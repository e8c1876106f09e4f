// Command inferbridge serves a local GGUF model over HTTP. The engine runs
// in a background worker (goroutines or a child process) behind the bridge.
//
//	inferbridge serve   start the HTTP server
//	inferbridge worker  run the engine on stdin/stdout (spawned by serve)
//	inferbridge models  list models found in the models directory
package main

import (
	"fmt"
	"os"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
