// hll-check builds, inspects and combines serialized sketches. It is the
// command line companion of the hyperloglog package: a quick way to see how a
// data set moves through the sparse widths and to validate sketch files.
//
// Usage Examples
// ==============
//
// Build a sketch from a file with one element per line:
//
//	hll-check build -o users.hll users.txt
//
// Validate a sketch and show its representation:
//
//	hll-check inspect users.hll
//
// Estimate the size of the union of two sketches:
//
//	hll-check union monday.hll tuesday.hll
//
// Exit Codes
// ==========
//
// 0: Success.
// 1: A file could not be read or is not a valid sketch.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "[err] %v\n", err)
		os.Exit(1)
	}
}
