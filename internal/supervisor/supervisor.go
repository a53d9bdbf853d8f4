// Package supervisor runs the long-lived parts of the API process under a
// suture tree: the HTTP listener and, when enabled, the periodic sweep.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/thejerf/suture/v4"

	"github.com/komi0929/veganmap/internal/app"
	"github.com/komi0929/veganmap/internal/domain"
)

type Config struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// New returns the root supervisor. Services are added by the caller.
func New(name string, cfg Config) *suture.Supervisor {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.FailureDecay <= 0 {
		cfg.FailureDecay = def.FailureDecay
	}
	if cfg.FailureBackoff <= 0 {
		cfg.FailureBackoff = def.FailureBackoff
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	return suture.New(name, suture.Spec{
		EventHook:        LogEvent(log.Logger),
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	})
}

// LogEvent forwards supervisor events to zerolog.
func LogEvent(l zerolog.Logger) suture.EventHook {
	return func(e suture.Event) {
		ev := l.Warn()
		if e.Type() == suture.EventTypeServicePanic {
			ev = l.Error()
		}
		ev.Fields(e.Map()).Msg(e.String())
	}
}

// ---- http ----

type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

type HTTPService struct {
	srv      HTTPServer
	shutdown time.Duration
}

func NewHTTPService(srv HTTPServer, shutdown time.Duration) *HTTPService {
	if shutdown <= 0 {
		shutdown = 10 * time.Second
	}
	return &HTTPService{srv: srv, shutdown: shutdown}
}

func (h *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		err := h.srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), h.shutdown)
		defer cancel()
		if err := h.srv.Shutdown(sctx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *HTTPService) String() string { return "http-server" }

// ---- periodic sweep ----

type Sweeper interface {
	RunSweep(ctx context.Context, opt app.SweepOptions) (app.SweepReport, error)
}

// SweepTicker re-syncs every restaurant once per interval. The first pass
// runs one interval after start, not at start.
type SweepTicker struct {
	sweep    Sweeper
	interval time.Duration
	limit    int
}

func NewSweepTicker(s Sweeper, interval time.Duration, limit int) *SweepTicker {
	return &SweepTicker{sweep: s, interval: interval, limit: limit}
}

func (t *SweepTicker) Serve(ctx context.Context) error {
	if t.interval <= 0 {
		return suture.ErrDoNotRestart
	}
	tick := time.NewTicker(t.interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			t.runOnce(ctx)
		}
	}
}

func (t *SweepTicker) runOnce(ctx context.Context) {
	start := time.Now()
	rep, err := t.sweep.RunSweep(ctx, app.SweepOptions{Filter: domain.SweepAll, Limit: t.limit, Force: true})
	if err != nil {
		log.Error().Err(err).Msg("scheduled sweep failed")
		return
	}
	log.Info().Int("total", rep.Total).Int("synced", rep.Synced).Int("skipped", rep.Skipped).Int("failed", rep.Failed).
		Dur("took", time.Since(start)).Msg("scheduled sweep completed")
}

func (t *SweepTicker) String() string { return "sweep-ticker" }
