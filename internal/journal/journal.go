// Package journal writes the high-rate lifecycle event stream as JSON lines,
// backed by zap.
package journal

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/soloplane/soloplane/lifecycle"
)

// Journal records lifecycle events. Wired as a coordinator observer.
type Journal struct {
	log *zap.Logger
}

// New creates a journal writing to path; "stderr" and "stdout" select the
// process streams.
func New(path string) (*Journal, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{path}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	log, err := cfg.Build(zap.WithCaller(false))
	if err != nil {
		return nil, fmt.Errorf("build journal logger: %w", err)
	}
	return &Journal{log: log}, nil
}

// Observe writes one event line.
func (j *Journal) Observe(ev lifecycle.Event) {
	j.log.Info(string(ev.Type),
		zap.String("kind", string(ev.Kind)),
		zap.String("instance", ev.InstanceID),
		zap.Uint64("generation", ev.Generation),
		zap.Int("constructed", ev.Constructed),
		zap.Int("ready", ev.Ready),
	)
}

// Close flushes buffered entries.
func (j *Journal) Close() error {
	// Sync on stderr returns an ignorable error on some platforms.
	_ = j.log.Sync()
	return nil
}
