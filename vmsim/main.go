// Command vmsim runs random memory workloads on the virtual memory core and
// reports how the pages moved.
package main

import (
	"github.com/tebeka/atexit"

	"github.com/sarchlab/vmcore/vmsim/cmd"
)

func main() {
	cmd.Execute()
	atexit.Exit(0)
}
