package service

import (
	"context"
	"log/slog"
	"time"
)

// PendingExpirer y InactiveCleaner son las dos tareas periódicas del servicio.
type PendingExpirer interface {
	ExpirePending(ctx context.Context, now time.Time) (int, error)
}

type InactiveCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Sweeper expira intentos vencidos y purga estados de tracking sin actividad.
type Sweeper struct {
	payments  PendingExpirer
	tracking  InactiveCleaner
	interval  time.Duration
	retention time.Duration
	log       *slog.Logger
}

func NewSweeper(p PendingExpirer, t InactiveCleaner, interval, retention time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		payments:  p,
		tracking:  t,
		interval:  interval,
		retention: retention,
		log:       slog.Default().With("component", "sweeper"),
	}
}

// Run bloquea hasta que ctx se cancela. La purga de tracking corre una vez por hora.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	lastCleanup := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.expire(ctx, now)
			if s.tracking != nil && s.retention > 0 && now.Sub(lastCleanup) >= time.Hour {
				s.cleanup(ctx)
				lastCleanup = now
			}
		}
	}
}

func (s *Sweeper) expire(ctx context.Context, now time.Time) {
	n, err := s.payments.ExpirePending(ctx, now)
	if err != nil {
		s.log.Error("falló el barrido de expiración", "error", err)
		return
	}
	if n > 0 {
		s.log.Info("intentos expirados", "count", n)
	}
}

func (s *Sweeper) cleanup(ctx context.Context) {
	n, err := s.tracking.Cleanup(ctx, s.retention)
	if err != nil {
		s.log.Error("falló la purga de tracking", "error", err)
		return
	}
	if n > 0 {
		s.log.Info("estados de tracking purgados", "count", n)
	}
}
