// Command emarzona inspects and syncs the local action queue.
package main

import (
	"fmt"
	"os"

	"github.com/emarzona/backend/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
