// Command orderrelay runs the restaurant order relay: the admin HTTP API,
// the Discord notification channel and the reconciliation sweeper, plus a
// few operational subcommands.
package main

import "os"

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
