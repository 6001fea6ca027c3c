// Inbox Attachments - CLI for pulling a month of Gmail attachments to disk
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/FarhadManiCodes/inbox-attachments/internal/app"
)

func main() {
	// Ctrl-C cancels the run and closes a pending consent listener
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := app.New().Command()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
