// Command vmmctl drives a virtual memory manager from the command line.
package main

import "github.com/sarchlab/vortexvm/vmmctl/cmd"

func main() {
	cmd.Execute()
}
