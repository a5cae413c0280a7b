package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mevkit/flasharb/cmd"
	"github.com/mevkit/flasharb/utils"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		utils.GetLogger().Info("shutting down gracefully")
		cancel()
	}()

	err := cmd.ExecuteContext(ctx)
	utils.CleanupLogger()
	if err != nil {
		os.Exit(1)
	}
}
