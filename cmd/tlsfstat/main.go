// Command tlsfstat replays allocation traces against host-backed heaps and reports how the heaps
// were left, for tuning heap sizing and checking fragmentation without a GPU.
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
