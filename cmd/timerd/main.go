package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"timermux/internal/app"
	"timermux/internal/eventbus"
	"timermux/pkg/systemd"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./timerd.yaml", "path to config file (yaml or json)")
	flag.Parse()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	stopSig := make(chan os.Signal, 1)
	signal.Notify(stopSig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stopSig)

	if err := a.Start(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		_ = a.Stop(context.Background(), app.StopFatalError)
		os.Exit(1)
	}

	cancelSig, stopCancel := notifyCancel(a.Config().Cancel.Signal)
	defer stopCancel()

	_, _ = systemd.Ready()
	if n, err := a.Status(context.Background()); err == nil {
		_, _ = systemd.Status(fmt.Sprintf("%d timers", n))
	}
	wdCtx, stopWatchdog := context.WithCancel(context.Background())
	defer stopWatchdog()
	go func() {
		_ = systemd.Watchdog(wdCtx, func(ctx context.Context) bool {
			ctx, cancel := context.WithTimeout(ctx, time.Second)
			defer cancel()
			_, err := a.Status(ctx)
			return err == nil
		})
	}()

	reason := app.StopUnknown
loop:
	for {
		select {
		case s := <-cancelSig:
			a.Bus().Publish(eventbus.Event{Type: eventbus.TypeTimerCancel, Data: s.String()})
		case s := <-stopSig:
			reason = app.StopSIGINT
			if s == syscall.SIGTERM {
				reason = app.StopSIGTERM
			}
			break loop
		case <-a.Done():
			reason = app.StopFatalError
			break loop
		}
	}

	stopWatchdog()
	_, _ = systemd.Stopping()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.Stop(ctx, reason)
	if err := a.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
