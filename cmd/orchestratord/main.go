// Command orchestratord wires the full autonomous multi-agent
// task-orchestration runtime into one process: the actor system, the
// skill registry, the dispatcher, the TaskGraph executor, worker
// supervision, and the supporting sidecar/telemetry/viewport
// collaborators, bootstrapped by a cobra+viper CLI exactly the shape
// the teacher's own cmd package uses.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
