// Command storefront is the terminal client for the commerce agent backend.
package main

import (
	"fmt"
	"os"

	"storefront/internal/cli"
	"storefront/pkg/logger"
)

func main() {
	err := cli.NewRootCmd().Execute()
	_ = logger.Close()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
