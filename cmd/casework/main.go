// Command casework runs and serves business-analysis jobs.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/casework/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
