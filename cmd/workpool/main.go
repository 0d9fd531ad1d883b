// Command workpool runs ledger maintenance and administers work items.
package main

import (
	"os"

	"github.com/xraph/workpool/internal/cli"
)

func main() {
	if err := cli.NewRoot().Execute(); err != nil {
		os.Exit(1)
	}
}
