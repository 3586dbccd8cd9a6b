package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/packageml/packageml/internal/display"
	"github.com/packageml/packageml/internal/resource"
	"github.com/packageml/packageml/pkg/logger"
)

func main() {
	logger.SetLogrus(*logger.DefaultConfig())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(newCLI(os.Stdin, os.Stdout, os.Stderr)).ExecuteContext(ctx)
	stop()
	if err != nil {
		errOut := display.New(os.Stdout, os.Stderr)
		errOut.Color = isTerminal(os.Stderr)
		errOut.Notify(resource.Failure, err.Error())
		os.Exit(1)
	}
}
