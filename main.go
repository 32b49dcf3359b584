package main

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// stubPersistence is a placeholder for the host application's real player
// store. A production deployment wires in a database-backed implementation
// of Persistence; this one keeps the coordinator runnable standalone and
// documents the contract every real implementation must satisfy.
type stubPersistence struct {
	mu    sync.Mutex
	wpm   map[int]float64
	races int
}

func newStubPersistence() *stubPersistence {
	return &stubPersistence{wpm: make(map[int]float64)}
}

func (p *stubPersistence) GetPlayerAverageWPM(ctx context.Context, userID int) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if wpm, ok := p.wpm[userID]; ok {
		return wpm, nil
	}
	// No history yet: seed with a plausible default rather than erroring,
	// so a first-time player can still be matched.
	wpm := 40 + rand.Float64()*30
	p.wpm[userID] = wpm
	return wpm, nil
}

func (p *stubPersistence) CreateMatchedRace(ctx context.Context, players []MatchedPlayerInfo, categoryID int) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.races++
	return p.races, nil
}

// stubMatchFactory always returns category 1, whatever the WPM. A real
// implementation would pick among configured text categories based on the
// group's average WPM.
type stubMatchFactory struct{}

func (stubMatchFactory) PickMatchCategory(ctx context.Context, groupAvgWPM float64) (*int, error) {
	return intPtr(1), nil
}

func main() {
	cfg := LoadConfig()

	persistence := newStubPersistence()
	matchFactory := stubMatchFactory{}

	server := NewServer(cfg, persistence, matchFactory)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.routes(),
	}

	go server.heartbeatLoop()

	Log().WithFields(map[string]interface{}{
		"listenAddr":               cfg.ListenAddr,
		"enableCors":               cfg.EnableCORS,
		"heartbeatIntervalSeconds": HeartbeatInterval,
		"matchmakingSkillWindow":   MatchmakingSkillWindow,
	}).Info("race coordinator listening")

	serveErr := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil {
			Log().WithError(err).Fatal("server exited unexpectedly")
		}
		return
	case sig := <-stop:
		Log().WithField("signal", sig.String()).Info("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		Log().WithError(err).Error("graceful shutdown failed")
	}
}
