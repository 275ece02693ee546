package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/MPSU-IT-Department/MPSU-Facial-Recognition-Attendance-System-sub000/internal/config"
	"github.com/MPSU-IT-Department/MPSU-Facial-Recognition-Attendance-System-sub000/internal/faceclient"
	"github.com/MPSU-IT-Department/MPSU-Facial-Recognition-Attendance-System-sub000/internal/kiosk"
	"github.com/MPSU-IT-Department/MPSU-Facial-Recognition-Attendance-System-sub000/internal/queue"
)

// Kiosk agent: drives one scanner station against the attendance API and
// serves a loopback control API for the touch UI.
func main() {
	cfg := config.LoadKiosk()
	loc := config.Location(cfg.Timezone)
	now := func() time.Time { return time.Now().In(loc) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	state, err := kiosk.LoadState(cfg.StateFile, cfg.CooldownTTL, now)
	if err != nil {
		log.Fatalf("load kiosk state: %v", err)
	}

	api := kiosk.NewAPIClient(cfg.ServerURL, cfg.APIKey, cfg.RequestTimeout)

	face := faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip, cfg.RequestTimeout)
	if !cfg.FaceSkip {
		if err := face.Health(ctx); err != nil {
			log.Printf("WARNING: Face service not available: %v", err)
		} else {
			log.Println("Face service connected")
		}
	}

	recognitions := queue.NewInMemory(64)
	scanner := kiosk.NewScanner(kiosk.FileCapture{Path: cfg.FramePath}, face, recognitions, kiosk.ScannerConfig{
		MinConfidence: cfg.MinConfidence,
		Debounce:      cfg.ScanDebounce,
	})
	coord := kiosk.NewCoordinator(api, state, kiosk.Options{
		KioskID:  cfg.KioskID,
		Room:     cfg.Room,
		Camera:   scanner,
		Verifier: face,
	})
	kioskID := coord.ID()

	regCtx, regCancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	if exp, err := api.Register(regCtx, kioskID); err != nil {
		log.Printf("kiosk register failed, using API key: %v", err)
	} else {
		log.Printf("kiosk %s registered, token valid until %s", kioskID, exp.In(loc).Format(time.RFC3339))
	}
	regCancel()

	r := gin.New()
	r.Use(gin.Recovery())
	kiosk.NewControl(coord, scanner.Snapshot).Register(r)
	srv := &http.Server{
		Addr:         cfg.ControlAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scanner.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := coord.Run(ctx, api, cfg.PollInterval, recognitions); err != nil && err != context.Canceled {
			log.Printf("coordinator stopped: %v", err)
		}
	}()
	go func() {
		log.Printf("kiosk %s control API on %s (room %q)", kioskID, cfg.ControlAddr, cfg.Room)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("control server error: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("control server forced shutdown: %v", err)
	}
	wg.Wait()
	log.Println("kiosk stopped")
}
