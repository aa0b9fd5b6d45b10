package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/modlink/modlink/internal/exitcode"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCommand(newGlobalState(ctx)).execute()
	stop()
	exitcode.Exit(err)
}
