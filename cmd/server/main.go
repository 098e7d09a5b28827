package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ej-follero/icct-sas-ver-1-sub010/internal/attendance"
	"github.com/ej-follero/icct-sas-ver-1-sub010/internal/audit"
	"github.com/ej-follero/icct-sas-ver-1-sub010/internal/config"
	"github.com/ej-follero/icct-sas-ver-1-sub010/internal/directory"
	"github.com/ej-follero/icct-sas-ver-1-sub010/internal/httpapi"
	"github.com/ej-follero/icct-sas-ver-1-sub010/internal/hub"
	"github.com/ej-follero/icct-sas-ver-1-sub010/internal/queue"
	"github.com/ej-follero/icct-sas-ver-1-sub010/internal/schedule"
	"github.com/ej-follero/icct-sas-ver-1-sub010/internal/store"
)

// The server hosts the ingestion pipeline, the live-feed hub, and the
// override endpoint in one process: the hub is in-memory, so the consumer
// that broadcasts into it must live alongside the WebSocket listener.
func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func run(cfg config.App) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var q queue.Queue
	var acker queue.Acker
	if cfg.QueueBackend == "memory" {
		mq := queue.NewInMemory(64)
		q, acker = mq, mq
	} else {
		rq := queue.NewRedisQueue(redisClient.Client, cfg.ScanQueueKey)
		q, acker = rq, rq
	}

	dirRepo := directory.NewRepository(db.Client)
	schedRepo := schedule.NewRepository(db.Client)
	ledger := attendance.NewRepository(db.Client)
	recorder := audit.NewRecorder(db.Client, cfg.StoreTimeout)

	campusLoc, err := time.LoadLocation(cfg.CampusTZ)
	if err != nil {
		log.Printf("invalid CAMPUS_TZ %q, falling back to UTC: %v", cfg.CampusTZ, err)
		campusLoc = time.UTC
	}

	h := hub.New(cfg.MetricsTick, cfg.HeartbeatTimeout)
	go h.Run(ctx)

	svc := attendance.NewService(attendance.Deps{
		Directory: directory.NewResolver(dirRepo),
		Students:  dirRepo,
		Schedules: schedule.NewResolver(schedRepo),
		Roster:    schedRepo,
		Ledger:    ledger,
		Audit:     recorder,
		Hub:       h,
	}, attendance.Options{
		LateThreshold: cfg.LateThreshold,
		DedupWindow:   cfg.DedupWindow,
		StoreTimeout:  cfg.StoreTimeout,
		Location:      campusLoc,
	})

	messages, err := q.Consume(ctx)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for i := 0; i < cfg.ScanWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			consume(ctx, messages, svc, acker)
		}()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Healthy(c.Request.Context())
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	httpapi.NewHandler(svc, ledger, h, cfg.JWTSigningKey, cfg.JWTIssuer).Register(r)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("server listening on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down server...")
	cancel()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("forced shutdown: %v", err)
	}
	log.Println("server exited")
	return nil
}

// consume runs one scan worker: decode, ingest, ack. Pipeline errors are
// terminal per scan; StoreUnavailable is left to transport redelivery.
func consume(ctx context.Context, messages <-chan queue.Message, svc *attendance.Service, acker queue.Acker) {
	for msg := range messages {
		if msg.Type != queue.TypeScan {
			continue
		}

		var sm queue.ScanMessage
		if err := json.Unmarshal(msg.Body, &sm); err != nil {
			log.Printf("scan decode failed: %v", err)
			continue
		}

		res, err := svc.Ingest(ctx, sm.ScanEvent)
		switch {
		case err == nil && res.Duplicate:
			log.Printf("scan %s: duplicate, returning record %d", sm.BadgeID, res.Record.ID)
		case err == nil:
			log.Printf("scan %s: recorded %s for user %d", sm.BadgeID, res.Record.Status, res.Record.UserID)
		case errors.Is(err, attendance.ErrStoreUnavailable):
			log.Printf("scan %s: store unavailable, leaving to redelivery: %v", sm.BadgeID, err)
		default:
			log.Printf("scan %s: rejected: %v", sm.BadgeID, err)
		}

		if sm.ReplyTo == "" || acker == nil {
			continue
		}
		ack, merr := json.Marshal(attendance.Ack(res, err))
		if merr != nil {
			continue
		}
		ackCtx, ackCancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		if aerr := acker.Ack(ackCtx, sm.ReplyTo, ack); aerr != nil {
			log.Printf("scan %s: ack publish failed: %v", sm.BadgeID, aerr)
		}
		ackCancel()
	}
}
