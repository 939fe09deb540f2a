package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Maturer flags matured package connections as ready to claim.
type Maturer interface {
	MaturePackages(ctx context.Context) (int64, error)
}

// MaturitySweeper runs a Maturer on a cron schedule. Runs never overlap; a
// tick that finds the previous sweep still running is skipped and logged.
type MaturitySweeper struct {
	cron    *cron.Cron
	job     cron.Job
	maturer Maturer
	log     *zap.Logger
	timeout time.Duration
}

func NewMaturitySweeper(schedule string, m Maturer, log *zap.Logger) (*MaturitySweeper, error) {
	if log == nil {
		log = zap.NewNop()
	}
	cl := cronLogger{log: log.Sugar()}
	s := &MaturitySweeper{
		cron:    cron.New(cron.WithLogger(cl)),
		maturer: m,
		log:     log,
		timeout: 30 * time.Second,
	}
	s.job = cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)).Then(cron.FuncJob(s.Sweep))
	if _, err := s.cron.AddJob(schedule, s.job); err != nil {
		return nil, fmt.Errorf("maturity schedule %q: %w", schedule, err)
	}
	return s, nil
}

// cronLogger adapts zap to cron.Logger. cron reports every tick through
// Info, so those entries go out at debug level.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw("cron_"+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw("cron_"+msg, append(keysAndValues, "error", err)...)
}

func (s *MaturitySweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep, up to ctx.
func (s *MaturitySweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// Sweep runs one pass.
func (s *MaturitySweeper) Sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	n, err := s.maturer.MaturePackages(ctx)
	if err != nil {
		s.log.Error("maturity_sweep_failed", zap.Error(err))
		return
	}
	s.log.Debug("maturity_sweep", zap.Int64("matured", n))
}
