// Command kiosk is a check-in device on the command line. It talks to the
// shared store directly, the same way the tablet app does.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/FireBladesAdi/dental-form-pro/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	k := newKiosk(config.Load())
	err := newRootCmd(k).ExecuteContext(ctx)
	k.close()
	stop()
	if err != nil {
		os.Exit(1)
	}
}
