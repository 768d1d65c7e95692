// teapot is a command line tool that executes stacked-diff rebases.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/alecthomas/kong"

	"go.abhg.dev/teapot/internal/cli"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var cmd cli.RootCmd
	kctx := kong.Parse(
		&cmd,
		kong.Name("teapot"),
		kong.Description("teapot executes stacked-diff rebases across dependent branches."),
		kong.BindTo(ctx, (*context.Context)(nil)),
		kong.UsageOnError(),
	)

	if err := kctx.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "teapot:", err)
		os.Exit(1)
	}
}
