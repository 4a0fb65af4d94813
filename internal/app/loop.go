package app

import (
	"context"
	"time"

	"github.com/ralph-groupscholar/slack/internal/appstate"
	"github.com/ralph-groupscholar/slack/internal/bus"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// maxFrameWait bounds how long the loop sleeps with nothing to do.
const maxFrameWait = time.Minute

// Loop is the frame loop: drain queued updates, snapshot, render. The
// very first frame runs before hydration or the network produce
// anything, so the window never waits on I/O.
type Loop struct {
	facade   *appstate.Facade
	bus      *bus.Bus
	renderer Renderer
	logger   *zap.Logger

	bench      bool
	shutdowner fx.Shutdowner

	cancel context.CancelFunc
	done   chan struct{}
}

// NewLoop creates the frame loop. With bench set it renders exactly one
// frame and asks the app to shut down, which makes cold-start time
// measurable from the outside.
func NewLoop(f *appstate.Facade, b *bus.Bus, r Renderer, bench bool, sd fx.Shutdowner, logger *zap.Logger) *Loop {
	return &Loop{
		facade:     f,
		bus:        b,
		renderer:   r,
		logger:     logger,
		bench:      bench,
		shutdowner: sd,
		done:       make(chan struct{}),
	}
}

// Start launches the loop goroutine and renders the first frame
// immediately.
func (l *Loop) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	// Repaint nudges: thumbnail decodes, state changes, hydration. All
	// advisory; a dropped event only delays the repaint to the next one.
	events, unsubscribe := l.bus.Subscribe("", 64)

	go func() {
		defer close(l.done)
		defer unsubscribe()

		start := time.Now()
		l.frame()
		l.logger.Info("first frame rendered", zap.Duration("elapsed", time.Since(start)))
		if l.bench {
			_ = l.shutdowner.Shutdown()
			return
		}

		for {
			wait := maxFrameWait
			if next := l.facade.NextExpiry(); !next.IsZero() {
				if d := time.Until(next); d < wait {
					wait = max(d, 0)
				}
			}
			select {
			case <-l.facade.Wake():
			case <-events:
			case <-time.After(wait):
			case <-ctx.Done():
				return
			}
			l.frame()
		}
	}()
}

// Stop halts the loop.
func (l *Loop) Stop() {
	if l.cancel != nil {
		l.cancel()
		<-l.done
	}
}

func (l *Loop) frame() {
	l.facade.Drain()
	l.renderer.Render(l.facade.Snapshot())
}
