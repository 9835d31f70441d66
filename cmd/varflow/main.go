// varflow runs variable-centric workflow graphs and inspects their
// persisted conversation state.
//
// Usage:
//
//	varflow run -g graph.yaml --conversation-id c1 --input message=hi
//	varflow vars --conversation-id c1
//	varflow events --run-id <id>
//	varflow validate -g graph.yaml
//	varflow diagram -g graph.yaml --run-id <id> -f mermaid
//	varflow serve --addr 127.0.0.1:8420
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(loadConfig()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
