// File: cmd/ouroboros/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"go.uber.org/zap"

	"github.com/xkilldash9x/ouroboros/cmd"
	"github.com/xkilldash9x/ouroboros/internal/observability"
)

func main() {
	defer handlePanic()

	// Interrupt signals cancel the command context so the loop can
	// finish its current tick and persist state before exiting.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd.Execute(ctx)
}

// handlePanic logs an unrecovered panic with its stack and exits
// nonzero. A crash must never look like a clean shutdown.
func handlePanic() {
	r := recover()
	if r == nil {
		return
	}
	stack := debug.Stack()
	if logger := observability.GetLogger(); logger != nil {
		logger.Error("Unrecovered panic",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		observability.Sync()
	} else {
		fmt.Fprintf(os.Stderr, "panic: %v\n%s", r, stack)
	}
	os.Exit(2)
}
