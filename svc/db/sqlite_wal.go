package db

import (
	"context"
	"time"

	"pobbin/metrics"
	"pobbin/svc/util"

	"github.com/pkg/errors"
)

const (
	checkpointInterval = 5 * time.Minute
	truncateLogPages   = 1000
)

// RunWALMaintenance checkpoints the write-ahead log until quit is closed, then
// runs one final checkpoint.
func (s *SQLite) RunWALMaintenance(interval time.Duration, quit <-chan struct{}) {
	if interval <= 0 {
		interval = checkpointInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.Checkpoint(context.Background()); err != nil {
				util.Error().Err(err).Msg("WAL checkpoint failed")
			}
		case <-quit:
			if err := s.Checkpoint(context.Background()); err != nil {
				util.Error().Err(err).Msg("final WAL checkpoint failed")
			}
			return
		}
	}
}

// Checkpoint runs a PASSIVE checkpoint and escalates to TRUNCATE when the log
// has grown large or readers blocked part of it.
func (s *SQLite) Checkpoint(ctx context.Context) error {
	start := time.Now()
	busy, logPages, done, err := s.checkpoint(ctx, "PASSIVE")
	if err != nil {
		return err
	}
	util.Debug().
		Int("busy", busy).
		Int("log", logPages).
		Int("checkpointed", done).
		Msg("PASSIVE checkpoint result")
	if logPages > truncateLogPages || busy > 0 {
		util.Info().Int("log", logPages).Msg("escalating to TRUNCATE checkpoint")
		if _, _, _, err := s.checkpoint(ctx, "TRUNCATE"); err != nil {
			return err
		}
	}
	if err := s.verifyIntegrity(ctx); err != nil {
		util.Error().Err(err).Msg("database integrity check failed after checkpoint")
		return err
	}
	util.Debug().Dur("duration", time.Since(start)).Msg("WAL checkpoint completed")
	return nil
}

func (s *SQLite) checkpoint(ctx context.Context, mode string) (busy, logPages, done int, err error) {
	metrics.WALCheckpoints.WithLabelValues(mode).Inc()
	err = s.db.QueryRowContext(ctx, "PRAGMA wal_checkpoint("+mode+")").Scan(&busy, &logPages, &done)
	if err != nil {
		return 0, 0, 0, errors.Wrapf(err, "%s checkpoint", mode)
	}
	return busy, logPages, done, nil
}

func (s *SQLite) verifyIntegrity(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	var result string
	if err := s.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return errors.Wrap(err, "integrity_check query failed")
	}
	if result != "ok" {
		return errors.Errorf("integrity_check returned: %s", result)
	}
	return nil
}
