package service

import (
	"context"
	"time"

	"github.com/smallbiznis/keystone/internal/invitation/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const reapInterval = time.Hour

// Reaper periodically flips pending invitations past their deadline to the
// expired status so list views and acceptance stay consistent without a
// database-side job.
type Reaper struct {
	log  *zap.Logger
	svc  domain.Service
	stop chan struct{}
	done chan struct{}
}

func NewReaper(log *zap.Logger, svc domain.Service) *Reaper {
	return &Reaper{
		log:  log.Named("invitation.reaper"),
		svc:  svc,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

func RegisterReaper(lc fx.Lifecycle, r *Reaper) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go r.run()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			close(r.stop)
			select {
			case <-r.done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func (r *Reaper) run() {
	defer close(r.done)

	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if _, err := r.svc.ReapExpired(ctx); err != nil {
				r.log.Warn("reap pass failed", zap.Error(err))
			}
			cancel()
		}
	}
}
