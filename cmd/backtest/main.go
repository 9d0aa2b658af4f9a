// cmd/backtest replays an archived tick stream through the full evaluation
// pipeline on a virtual clock. Decisions come out identical to what a live
// session would have produced for the same ticks, which is the whole point:
// transition records print to stdout and land in a journal for comparison.
//
// Usage:
//
//	go run ./cmd/backtest --db=data/ticks.db --strategy=strategies/pump.yaml --symbol=PUMPUSDT
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pumpwatch/internal/breaker"
	"pumpwatch/internal/catalog"
	"pumpwatch/internal/dag"
	"pumpwatch/internal/events"
	"pumpwatch/internal/execution"
	"pumpwatch/internal/feed"
	"pumpwatch/internal/history"
	"pumpwatch/internal/model"
	"pumpwatch/internal/notification"
	"pumpwatch/internal/portfolio"
	"pumpwatch/internal/scheduler"
	"pumpwatch/internal/session"
	sqlitestore "pumpwatch/internal/store/sqlite"
	"pumpwatch/internal/strategy"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	dbPath := flag.String("db", "data/ticks.db", "Path to the tick archive")
	stratPath := flag.String("strategy", "", "Path to the strategy YAML file")
	symbol := flag.String("symbol", "", "Symbol to backtest")
	fromStr := flag.String("from", "", "RFC3339 start time (empty = full archive)")
	journalPath := flag.String("journal", "data/backtest-journal.db", "Journal output path")
	bucketWidth := flag.Int64("bucket", 5, "Metric bucket width in seconds")
	interval := flag.Duration("interval", time.Second, "Evaluation interval")
	signalTimeout := flag.Duration("signal-timeout", 5*time.Minute, "O1 signal timeout")
	cooldown := flag.Duration("cooldown", time.Minute, "Exit cool-down before re-monitoring")
	slippageBps := flag.Float64("slippage", 5, "Paper fill slippage in basis points")
	size := flag.Float64("size", 1, "Position size")
	flag.Parse()

	if *stratPath == "" || *symbol == "" {
		flag.Usage()
		os.Exit(2)
	}

	strat, err := strategy.LoadFile(*stratPath)
	if err != nil {
		log.Fatalf("[backtest] strategy load failed: %v", err)
	}

	reader, err := sqlitestore.NewTickReader(*dbPath)
	if err != nil {
		log.Fatalf("[backtest] tick archive open failed: %v", err)
	}
	defer reader.Close()

	var fromTS time.Time
	if *fromStr != "" {
		fromTS, err = time.Parse(time.RFC3339, *fromStr)
		if err != nil {
			log.Fatalf("[backtest] bad -from value: %v", err)
		}
	}

	journal, err := sqlitestore.NewJournal(*journalPath)
	if err != nil {
		log.Fatalf("[backtest] journal open failed: %v", err)
	}
	defer journal.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	// ---- Pipeline on a virtual clock ----
	registry := catalog.NewRegistry()
	if err := catalog.RegisterBuiltins(registry); err != nil {
		log.Fatalf("[backtest] catalog init failed: %v", err)
	}

	hist := history.NewStore(0) // keep everything; backtests are bounded
	cache := dag.NewCache(3600)
	breakers := breaker.NewGroup(breaker.Config{MaxFailures: 5, ResetTimeout: 10 * time.Second})
	engine := dag.NewEngine(cache, hist, breakers, *bucketWidth)

	clock := session.NewVirtualClock(time.Time{})
	engine.SetNow(clock.Now)

	emitter := events.NewEmitter(journal, 256)

	gateway := execution.NewPaperGateway(*slippageBps)

	sess, err := session.New(session.Config{
		Mode:     model.ModeBacktest,
		Symbol:   *symbol,
		Strategy: strat,
		Machine: session.MachineConfig{
			SignalTimeout: *signalTimeout,
			ExitCooldown:  *cooldown,
		},
		PositionSize: *size,
	}, session.Deps{
		Registry: registry,
		Engine:   engine,
		History:  hist,
		Emitter:  emitter,
		Gateway:  gateway,
		Notifier: notification.NewLogNotifier(),
	}, clock)
	if err != nil {
		log.Fatalf("[backtest] session refused: %v", err)
	}

	// Print every transition as it happens.
	transitionCh := emitter.SubscribeTransitions()
	printDone := make(chan struct{})
	transitions := 0
	go func() {
		defer close(printDone)
		for rec := range transitionCh {
			transitions++
			fmt.Printf("  [%s] %s: %s -> %s (%s) %s\n",
				rec.TS.Format("2006-01-02 15:04:05"),
				rec.Symbol, rec.From, rec.To, rec.Trigger, rec.Reason)
		}
	}()

	// ---- Replay: archive -> dispatcher -> session ----
	fanout := feed.NewFanOut(16384)
	dispatcher := feed.NewDispatcher(hist, fanout, 0) // archive is already ordered
	ticks := fanout.Subscribe(*symbol)

	sched := scheduler.NewBacktest(sess, clock, ticks, *interval)
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		sched.Run(ctx)
	}()

	start := time.Now()
	archived, err := reader.ReadTicks(*symbol, fromTS)
	if err != nil {
		log.Fatalf("[backtest] tick read failed: %v", err)
	}
	if len(archived) == 0 {
		log.Fatalf("[backtest] no ticks for %s in %s", *symbol, *dbPath)
	}
	for _, t := range archived {
		if ctx.Err() != nil {
			break
		}
		dispatcher.Process(t)
	}
	fanout.Close()
	<-schedDone

	emitter.Close()
	<-printDone

	// ---- Summary ----
	fills := gateway.Fills()
	tracker := portfolio.NewPnLTracker()
	for _, f := range fills {
		tracker.Record(f)
	}

	elapsed := time.Since(start)
	fmt.Printf("\n[backtest] done: %d ticks in %s (%.0f ticks/s)\n",
		len(archived), elapsed.Round(time.Millisecond), float64(len(archived))/elapsed.Seconds())
	fmt.Printf("[backtest] transitions=%d fills=%d realized_pnl=%.6f\n",
		transitions, len(fills), tracker.Realized())
	fmt.Printf("[backtest] final state: %s\n", sess.State())
}
