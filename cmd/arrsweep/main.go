package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"arrsweep/internal/app"
)

func main() {
	var (
		cfgPath string
		once    bool
	)
	flag.StringVar(&cfgPath, "config", "./arrsweep.yaml", "path to config file (yaml or json)")
	flag.BoolVar(&once, "once", false, "run a single pass and exit")
	flag.Parse()

	// Optional .env next to the binary; missing file is fine.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	if once {
		err := a.RunOnce(ctx)
		if cerr := a.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			fmt.Println("fatal:", err)
			os.Exit(1)
		}
		return
	}

	if err := a.Start(ctx); err != nil {
		_ = a.Close()
		fmt.Println("fatal start:", err)
		os.Exit(1)
	}

	<-ctx.Done()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx)
}
