package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/gitfeed"
)

func main() {
	// start mock feed (see mock_server.go)
	go StartMockFeedServer(":9999")
	time.Sleep(100 * time.Millisecond)

	cacheDir, err := os.MkdirTemp("", "gitfeed-demo-")
	if err != nil {
		slog.Error("failed to create cache dir", "error", err)
		os.Exit(1)
	}
	defer func() { _ = os.RemoveAll(cacheDir) }()

	gf, err := gitfeed.New(
		gitfeed.WithResource("ReactiveX/RxSwift"),
		gitfeed.WithEndpoint("http://localhost:9999/repos"),
		gitfeed.WithPollingInterval(5*time.Second),
		gitfeed.WithCacheDir(cacheDir),
		gitfeed.WithMaxHistory(10),
		gitfeed.WithPort(8080),
		gitfeed.WithHistoryCallback(func(events []gitfeed.Event) {
			fmt.Printf("history: %d events\n", len(events))
			for _, ev := range events[:min(3, len(events))] {
				fmt.Printf("  %-10s %s\n", ev.Name, ev.Summary())
			}
		}),
		gitfeed.WithRefreshCallback(func(r gitfeed.RefreshResult) {
			if r.Outcome == gitfeed.OutcomeFailed {
				fmt.Printf("refresh %s failed: %s\n", r.CycleID[:8], r.Error)
			}
		}),
	)
	if err != nil {
		slog.Error("failed to create gitfeed", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("  GitFeed Demo")
	fmt.Println()
	fmt.Println("  Mock feed:  http://localhost:9999/repos/ReactiveX/RxSwift/events")
	fmt.Println("  History:    http://localhost:8080/api/events")
	fmt.Println("  Live:       curl -N http://localhost:8080/api/sse")
	fmt.Println("  Refresh:    curl -X POST http://localhost:8080/api/refresh")
	fmt.Println()
	fmt.Println("  Press Ctrl+C to stop")
	fmt.Println()

	// set up context with signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := gf.Start(ctx); err != nil {
		slog.Error("gitfeed error", "error", err)
		os.Exit(1)
	}
}
