package app

import (
	"github.com/ralph-groupscholar/slack/internal/appstate"
	"go.uber.org/zap"
)

// Renderer consumes one state snapshot per frame. The GUI shell plugs in
// here; everything below it is renderer-agnostic.
type Renderer interface {
	Render(s *appstate.Snapshot)
}

// LogRenderer is the headless renderer: it logs a one-line frame summary
// at debug level. Used by the CLI entrypoint and the startup benchmark.
type LogRenderer struct {
	logger *zap.Logger
}

// NewLogRenderer creates a headless renderer.
func NewLogRenderer(logger *zap.Logger) *LogRenderer {
	return &LogRenderer{logger: logger}
}

func (r *LogRenderer) Render(s *appstate.Snapshot) {
	r.logger.Debug("frame",
		zap.Bool("hydrated", s.Hydrated),
		zap.Int("channels", len(s.Channels)),
		zap.Int64("active", s.ActiveChannelID),
		zap.Int("messages", len(s.Messages)),
		zap.String("conn", s.Conn.State))
}
