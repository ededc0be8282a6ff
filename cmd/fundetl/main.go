/*
main.go - fundetl command-line entry point

PURPOSE:
  Runs workflows in-process and inspects run history without the HTTP
  server. Shares the database with the server.

EXAMPLES:
  fundetl run-daily --date 2025-06-17
  fundetl validate --mode full --format json
  fundetl runs --kind validation --limit 5
  fundetl status 6f1c...
  fundetl missing-dates --region emea

SEE ALSO:
  - cli/root.go: Command tree
*/
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/warp/fund-etl/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
