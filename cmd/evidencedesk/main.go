// Package main provides the evidencedesk binary: the evidence upload client
// and the offline gateway that keeps the upload page available offline.
package main

import (
	"fmt"
	"os"
	"runtime"
)

const appName = "evidencedesk"

// Version is set at build time.
var Version = "dev"

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
