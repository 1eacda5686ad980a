// Package main следит за заказом магазина eSIM из терминала, пока он не будет выполнен.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/esim-orders/internal/model"
	"github.com/mmeshcher/esim-orders/internal/poller"
	"github.com/mmeshcher/esim-orders/internal/presentation"
	"github.com/mmeshcher/esim-orders/internal/storefront"
)

func main() {
	var (
		storeAddr   string
		orderUUID   string
		maxFailures int
		interval    time.Duration
		verbose     bool
	)
	flag.StringVar(&storeAddr, "s", "localhost:8080", "store address")
	flag.StringVar(&orderUUID, "o", "", "order uuid")
	flag.IntVar(&maxFailures, "n", 10, "stop after this many consecutive failed fetches, 0 for unlimited")
	flag.DurationVar(&interval, "i", poller.DefaultInterval, "poll interval")
	flag.BoolVar(&verbose, "v", false, "verbose logging")
	flag.Parse()

	if orderUUID == "" {
		fmt.Fprintln(os.Stderr, "order uuid is required (-o)")
		os.Exit(2)
	}

	logger := zap.NewNop()
	if verbose {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := storefront.NewClient(storeAddr)

	w := poller.Watch(ctx, client, orderUUID, poller.Options{
		Interval:               interval,
		MaxConsecutiveFailures: maxFailures,
		Logger:                 logger,
		OnUpdate:               printView,
		OnPoll: func(n int) {
			fmt.Printf("still waiting (%d checks)\n", n)
		},
		OnError: func(err error) {
			logger.Warn("order fetch failed", zap.Error(err))
		},
	})

	<-w.Done()

	if err := w.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "tracking stopped: %v\n", err)
		os.Exit(1)
	}

	last, ok := w.Last()
	if !ok || last.Status != model.OrderStatusCompleted {
		os.Exit(1)
	}
}

func printView(v presentation.OrderView) {
	fmt.Printf("[%s] %s  %s\n", v.Badge.Color, v.Badge.Label, v.OrderNumber)

	if v.Esim == nil {
		return
	}
	fmt.Printf("  ICCID: %s\n", v.Esim.ICCID)
	if v.Esim.LPAString != nil {
		fmt.Printf("  Activation: %s\n", *v.Esim.LPAString)
	}
	if v.Esim.DataTotalGB != nil && v.Esim.UsageBar != nil {
		fmt.Printf("  Data: %.2f / %.2f GB (%.0f%%, %s)\n",
			v.Esim.DataUsedGB, *v.Esim.DataTotalGB, v.Esim.UsageBar.Width, v.Esim.UsageBar.Color)
	}
	if v.Esim.ExpiryMessage != "" {
		fmt.Printf("  %s\n", v.Esim.ExpiryMessage)
	}
}
