package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"pumpwatch/config"
	"pumpwatch/internal/breaker"
	"pumpwatch/internal/catalog"
	"pumpwatch/internal/dag"
	"pumpwatch/internal/events"
	"pumpwatch/internal/execution"
	"pumpwatch/internal/feed"
	"pumpwatch/internal/history"
	"pumpwatch/internal/logger"
	"pumpwatch/internal/metrics"
	"pumpwatch/internal/model"
	"pumpwatch/internal/notification"
	"pumpwatch/internal/ops"
	"pumpwatch/internal/ringbuf"
	"pumpwatch/internal/scheduler"
	"pumpwatch/internal/session"
	redisstore "pumpwatch/internal/store/redis"
	sqlitestore "pumpwatch/internal/store/sqlite"
	"pumpwatch/internal/strategy"
	"pumpwatch/internal/stream"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	logger.Init("pumpwatch", slog.LevelInfo)
	log.Println("[pumpwatch] starting...")

	cfg := config.Load()

	mode := model.ModePaper
	if cfg.Mode == "live" {
		mode = model.ModeLive
	}
	log.Printf("[pumpwatch] mode=%s symbols=%s", mode, cfg.Symbols)

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus(string(mode))
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Graceful shutdown ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- SQLite: journal + tick archive ----
	os.MkdirAll("data", 0o755)
	journal, err := sqlitestore.NewJournal(cfg.JournalPath)
	if err != nil {
		log.Fatalf("[pumpwatch] journal init failed: %v", err)
	}
	defer journal.Close()

	tickWriter, err := sqlitestore.NewTickWriter(cfg.TickDBPath, 256)
	if err != nil {
		log.Fatalf("[pumpwatch] tick archive init failed: %v", err)
	}
	defer tickWriter.Close()

	// ---- Event emitter (journal is the synchronous write) ----
	emitter := events.NewEmitter(timedJournal{journal, prom.JournalWriteDur}, 256)
	emitter.OnDrop = func(stream string, _ int) {
		prom.EmitterDropsTotal.WithLabelValues(stream).Inc()
	}
	defer emitter.Close()

	// ---- Redis distribution (best-effort, breaker-protected) ----
	pub, err := redisstore.NewPublisher(redisstore.PublisherConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Printf("[pumpwatch] WARNING: redis init failed: %v (continuing without redis)", err)
	} else {
		defer pub.Close()
		redisCB := breaker.New(breaker.Config{
			MaxFailures:  cfg.BreakerFailures,
			ResetTimeout: cfg.BreakerCooldown,
		})
		redisCB.OnStateChange = func(from, to breaker.State) {
			prom.BreakerState.WithLabelValues("redis").Set(float64(to))
			if to == breaker.StateOpen {
				prom.BreakerTrips.WithLabelValues("redis").Inc()
			}
			log.Printf("[pumpwatch] redis breaker %s -> %s", from, to)
		}
		bp := redisstore.NewBufferedPublisher(ctx, pub, redisCB, 10000)
		bp.OnBuffer = func() { prom.RedisBufferedPubs.Inc() }

		transitionCh := emitter.SubscribeTransitions()
		signalCh := emitter.SubscribeSignals()
		go func() {
			for rec := range transitionCh {
				if err := bp.PublishTransition(rec); err != nil {
					log.Printf("[pumpwatch] transition publish error: %v", err)
				}
			}
		}()
		go func() {
			for ev := range signalCh {
				if err := bp.PublishSignal(ev); err != nil {
					log.Printf("[pumpwatch] signal publish error: %v", err)
				}
			}
		}()
		health.StartLivenessChecker(ctx, pub.Client(), nil, 15*time.Second)
	}

	// ---- Notifications ----
	var notifier notification.Notifier = notification.NewLogNotifier()
	if cfg.WebhookURL != "" {
		notifier = notification.NewMulti(
			notification.NewLogNotifier(),
			notification.NewWebhookNotifier(cfg.WebhookURL),
		)
	}
	notifier = meteredNotifier{next: notifier, sent: prom.NotificationsTotal}

	// ---- Indicator catalog ----
	registry := catalog.NewRegistry()
	if err := catalog.RegisterBuiltins(registry); err != nil {
		log.Fatalf("[pumpwatch] catalog init failed: %v", err)
	}

	// ---- DAG engine over shared history ----
	retention := time.Duration(cfg.RetentionSec) * time.Second
	hist := history.NewStore(retention)
	cache := dag.NewCache(int64(cfg.RetentionSec))
	computeBreakers := breaker.NewGroup(breaker.Config{
		MaxFailures:  cfg.BreakerFailures,
		ResetTimeout: cfg.BreakerCooldown,
		CallTimeout:  cfg.BreakerCallTO,
	})
	computeBreakers.OnStateChange = func(target string, from, to breaker.State) {
		prom.BreakerState.WithLabelValues(target).Set(float64(to))
		if to == breaker.StateOpen {
			prom.BreakerTrips.WithLabelValues(target).Inc()
		}
		log.Printf("[pumpwatch] breaker %s: %s -> %s", target, from, to)
	}
	engine := dag.NewEngine(cache, hist, computeBreakers, int64(cfg.BucketWidthSec))
	engine.OnCacheHit = func() { prom.CacheHits.Inc() }
	engine.OnCacheMiss = func() { prom.CacheMisses.Inc() }
	engine.OnComputeFail = func(kind string) { prom.ComputeFails.WithLabelValues(kind).Inc() }
	engine.OnPartial = func() { prom.PartialResults.Inc() }

	// ---- Strategies ----
	strategies, err := strategy.LoadDir(cfg.StrategyDir)
	if err != nil {
		log.Fatalf("[pumpwatch] strategy load failed: %v", err)
	}
	log.Printf("[pumpwatch] loaded strategies: %v", strategies.Names())

	// ---- Feed pipeline: source -> dispatcher -> fanout ----
	fanout := feed.NewFanOut(4096)
	fanout.OnDrop = func(symbol string) { prom.FanoutDropsTotal.WithLabelValues(symbol).Inc() }
	dispatcher := feed.NewDispatcher(hist, fanout, cfg.LatenessTol)
	dispatcher.OnLateTick = func(string) { prom.LateTicks.Inc() }

	symbols := cfg.ParseSymbols()
	archiveTicks := true

	switch cfg.FeedSource {
	case "replay":
		// Rehearse against the recorded archive instead of a live feed.
		// The archive is the tick source here, so nothing is re-archived.
		archiveTicks = false
		reader, err := sqlitestore.NewTickReader(cfg.TickDBPath)
		if err != nil {
			log.Fatalf("[pumpwatch] tick archive open failed: %v", err)
		}
		tickCh := make(chan model.Tick, 8192)
		go dispatcher.Run(ctx, tickCh)
		go func() {
			defer close(tickCh)
			defer reader.Close()
			health.SetWSConnected(true)
			err := feed.NewReplayer(reader).Run(ctx, symbols, time.Time{}, cfg.ReplaySpeed, tickCh)
			if err != nil && ctx.Err() == nil {
				log.Printf("[pumpwatch] replay stopped: %v", err)
			}
		}()

	default: // "ws"
		ring := ringbuf.New(16384)
		go dispatcher.RunRing(ctx, ring)

		ingest, err := feed.NewWSIngest(feed.WSConfig{URL: cfg.FeedWSURL, Symbols: symbols})
		if err != nil {
			log.Fatalf("[pumpwatch] feed config invalid: %v", err)
		}
		ingest.OnReconnect = func() {
			prom.WSReconnects.Inc()
			health.SetWSConnected(false)
		}
		go func() {
			health.SetWSConnected(true)
			if err := ingest.StartRing(ctx, ring); err != nil {
				log.Printf("[pumpwatch] feed stopped: %v", err)
			}
		}()

		// Ring overflow sampler.
		go func() {
			var last uint64
			t := time.NewTicker(5 * time.Second)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					cur := ring.Overflow()
					prom.RingBufOverflow.Add(float64(cur - last))
					last = cur
				}
			}
		}()
	}

	// ---- Tick archive + tick counters ----
	for _, sym := range symbols {
		archCh := fanout.Subscribe(sym)
		archive := archiveTicks
		go func() {
			for t := range archCh {
				prom.TicksTotal.Inc()
				health.SetLastTickTime(t.TS)
				if !archive {
					continue
				}
				if err := tickWriter.Append(t); err != nil {
					log.Printf("[pumpwatch] tick archive append failed: %v", err)
				}
			}
		}()
	}
	go func() {
		t := time.NewTicker(2 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := tickWriter.Flush(); err != nil {
					log.Printf("[pumpwatch] tick archive flush failed: %v", err)
				}
			}
		}
	}()

	// ---- Execution gateway ----
	var gateway execution.Gateway
	if mode == model.ModePaper {
		gateway = execution.NewPaperGateway(cfg.SlippageBps)
	} else {
		// Signal computation only in live mode; order routing is a
		// separate service consuming the Redis streams.
		gateway = execution.NopGateway{}
	}

	// ---- Sessions: one per (strategy, symbol) ----
	mgr := session.NewManager()
	mgr.OnStateCount = func(active, inError int) {
		prom.SessionsActive.Set(float64(active))
		prom.SessionsInError.Set(float64(inError))
	}

	deps := session.Deps{
		Registry: registry,
		Engine:   engine,
		History:  hist,
		Emitter:  emitter,
		Gateway:  gateway,
		Notifier: notifier,
	}
	machineCfg := session.MachineConfig{
		SignalTimeout: cfg.SignalTimeout,
		ExitCooldown:  cfg.ExitCooldown,
	}

	for _, name := range strategies.Names() {
		strat, _ := strategies.Get(name)
		for _, sym := range symbols {
			sess, err := session.New(session.Config{
				Mode:         mode,
				Symbol:       sym,
				Strategy:     strat,
				Machine:      machineCfg,
				PositionSize: cfg.PositionSize,
			}, deps, session.RealClock{})
			if err != nil {
				log.Printf("[pumpwatch] session refused for %s/%s: %v", name, sym, err)
				continue
			}
			sess.OnEvaluate = func(d time.Duration) {
				prom.EvalTotal.Inc()
				prom.EvalDur.Observe(d.Seconds())
			}

			ticks := fanout.Subscribe(sym)
			sched := scheduler.NewLive(sess, ticks, cfg.EvalInterval)
			mgr.Run(ctx, sess, sched.Run)
			log.Printf("[pumpwatch] session %s started: strategy=%s symbol=%s", sess.ID, name, sym)
		}
	}

	// ---- WebSocket event stream ----
	hub := stream.NewHub(2000)
	go hub.Run(ctx, emitter.SubscribeTransitions(), emitter.SubscribeSignals())

	// Transition counter by trigger.
	promCh := emitter.SubscribeTransitions()
	go func() {
		for rec := range promCh {
			prom.TransitionsTotal.WithLabelValues(string(rec.Trigger)).Inc()
		}
	}()

	// ---- Ops API ----
	opsSrv := ops.NewServer(ops.Config{
		Addr:       cfg.OpsAddr,
		TOTPSecret: cfg.OpsTOTPSecret,
		Stream:     hub,
	}, mgr, journal)
	opsSrv.Start()

	// ---- Wait for shutdown ----
	<-sigCh
	log.Println("[pumpwatch] shutdown signal received, cleaning up...")
	cancel()

	mgr.StopAll()
	fanout.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	opsSrv.Stop(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)

	log.Println("[pumpwatch] stopped")
}

// timedJournal records append latency around the SQLite journal.
type timedJournal struct {
	inner *sqlitestore.Journal
	dur   prometheus.Histogram
}

func (j timedJournal) AppendTransition(rec model.TransitionRecord) error {
	start := time.Now()
	err := j.inner.AppendTransition(rec)
	j.dur.Observe(time.Since(start).Seconds())
	return err
}

// meteredNotifier counts alerts by level before delegating.
type meteredNotifier struct {
	next notification.Notifier
	sent *prometheus.CounterVec
}

func (n meteredNotifier) Send(ctx context.Context, alert notification.Alert) error {
	n.sent.WithLabelValues(string(alert.Level)).Inc()
	return n.next.Send(ctx, alert)
}
