package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/adamwoolhether/unihttp/cmd/unihttp/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	commands.ExecuteContext(ctx)
}
