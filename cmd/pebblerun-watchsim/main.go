// pebblerun-watchsim emulates the watch against a running bridge: it joins
// the broker on the watch side of the topics, renders display updates to the
// log, and produces synthetic heart-rate readings at the commanded sample
// period.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"pebblerun-bridge/internal/config"
	"pebblerun-bridge/internal/logger"
	"pebblerun-bridge/internal/protocol"
	"pebblerun-bridge/internal/transport"
	"pebblerun-bridge/internal/watch"
)

// logDisplay renders display operations to the log instead of a screen.
type logDisplay struct {
	logger *zap.Logger
}

func (d *logDisplay) ShowTracking()       { d.logger.Info("[display] tracking screen pushed") }
func (d *logDisplay) HideTracking()       { d.logger.Info("[display] back to watchface") }
func (d *logDisplay) UpdateHR(bpm uint16) { d.logger.Info("[display] HR", zap.Uint16("bpm", bpm)) }
func (d *logDisplay) UpdatePace(pace string) {
	d.logger.Info("[display] pace", zap.String("text", pace))
}
func (d *logDisplay) UpdateTime(clock string) {
	d.logger.Info("[display] time", zap.String("text", clock))
}

// simSensor produces a random walk around a resting value at the commanded
// period, feeding the app like the real sensor callback would.
type simSensor struct {
	mu     sync.Mutex
	app    *watch.App
	cancel context.CancelFunc
	bpm    int
}

func (s *simSensor) SetSamplePeriod(seconds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if seconds <= 0 {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	go func() {
		ticker := time.NewTicker(time.Duration(seconds) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.mu.Lock()
				s.bpm += rand.Intn(7) - 3
				if s.bpm < 90 {
					s.bpm = 90
				}
				if s.bpm > 175 {
					s.bpm = 175
				}
				bpm := uint16(s.bpm)
				s.mu.Unlock()
				s.app.OnHeartRate(bpm)
			}
		}
	}()
	return nil
}

func main() {
	// 1. Load optional .env, then configuration
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. Initialize logging
	log, err := logger.NewLogger(cfg.Log.Level, "console", "pebblerun-watchsim")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	// 3. Join the broker on the watch side of the topics
	tr := transport.NewWatchMQTTTransport(&cfg.MQTT, cfg.Watch.ID, log)

	outbox := watch.NewOutbox(tr, log)
	sensor := &simSensor{bpm: 120}
	app := watch.NewApp(&logDisplay{logger: log}, sensor, outbox, log)
	sensor.app = app

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := tr.Open(ctx, func(payload []byte) {
		msg, err := protocol.Decode(payload)
		if err != nil {
			log.Warn("Dropping malformed bridge message", zap.Error(err))
			return
		}
		app.HandleMessage(msg)
	}); err != nil {
		log.Fatal("Failed to open watch transport", zap.Error(err))
	}
	defer tr.Close()

	// 4. Pump the outbox until a shutdown signal arrives
	go outbox.Run(ctx)

	log.Info("Watch emulator running", zap.String("watch_id", cfg.Watch.ID))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	_ = sensor.SetSamplePeriod(0)
	cancel()
}
