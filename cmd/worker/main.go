package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/MPSU-IT-Department/MPSU-Facial-Recognition-Attendance-System-sub000/internal/attendance"
	"github.com/MPSU-IT-Department/MPSU-Facial-Recognition-Attendance-System-sub000/internal/config"
	"github.com/MPSU-IT-Department/MPSU-Facial-Recognition-Attendance-System-sub000/internal/httpapi"
	"github.com/MPSU-IT-Department/MPSU-Facial-Recognition-Attendance-System-sub000/internal/queue"
	"github.com/MPSU-IT-Department/MPSU-Facial-Recognition-Attendance-System-sub000/internal/store"
)

// Worker runs the scheduled absence sweep and drains sweep requests queued
// by the API.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	if cfg.StoreBackend == "memory" {
		log.Fatal("worker needs a shared database; STORE_BACKEND=memory is only usable by the API")
	}
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Client.Close()

	var q queue.Queue
	if cfg.QueueBackend == config.QueueMemory {
		// Nothing else can publish to a private queue; only the schedule runs.
		q = queue.NewInMemory(64)
	} else {
		key := cfg.QueueKey
		if key == "" {
			key = queue.DefaultKey
		}
		q = queue.NewRedisQueue(redisClient.Client, key)
	}

	repo := attendance.NewRepository(db.Client)
	svc := attendance.NewService(repo,
		attendance.WithLocation(config.Location(cfg.Timezone)),
		attendance.WithStrictCheckInWindow(cfg.StrictCheckInWindow),
	)
	sweeper := attendance.NewSweeper(svc, redisClient)

	go func() {
		if err := sweeper.Run(ctx, cfg.SweepSchedule); err != nil {
			log.Printf("sweep schedule %q rejected: %v", cfg.SweepSchedule, err)
			cancel()
		}
	}()

	log.Println("worker started, waiting for messages...")
	err = queue.Dispatch(ctx, q, map[string]queue.Handler{
		queue.TypeSweep: func(ctx context.Context, msg queue.Message) error {
			var task httpapi.SweepTask
			if err := json.Unmarshal(msg.Body, &task); err != nil {
				log.Printf("sweep task: bad body, sweeping anyway: %v", err)
			}
			res, err := sweeper.Sweep(ctx)
			if err != nil {
				return err
			}
			log.Printf("sweep requested by %q at %s: closed=%d absent=%d failed=%d skipped=%t",
				task.RequestedBy, task.RequestedAt.Format("15:04:05"), res.Closed, res.AbsentMarked, res.Failed, res.Skipped)
			return nil
		},
	})
	if err != nil && err != context.Canceled {
		log.Printf("dispatch stopped: %v", err)
	}

	log.Println("worker stopped")
}
