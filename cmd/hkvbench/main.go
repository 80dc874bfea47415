// Command hkvbench drives an hkv table: a synthetic benchmark with optional
// pprof/metrics endpoints, and an interactive shell for poking at leases,
// deletes and eviction by hand.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
