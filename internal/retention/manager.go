// Package retention bounds the disk footprint of decrypted attachment
// files. A periodic sweep deletes files older than a configured age,
// independent of whether the owning message is still cached; the next
// attachment resolution simply decrypts again.
package retention

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dovelchat/msgcache/internal/logging"
	"github.com/dovelchat/msgcache/internal/metrics"
)

const (
	DefaultMaxAge   = 7 * 24 * time.Hour
	DefaultInterval = 6 * time.Hour
)

// SweepResult summarizes one pass over the cache directory.
type SweepResult struct {
	ScannedFiles int
	DeletedFiles int
	FreedBytes   int64
	Errors       int
}

// Stats describes the current state of the cache directory.
type Stats struct {
	TotalFiles int
	TotalSize  int64
	OldestFile time.Time
	NewestFile time.Time
}

// MemoDropper lets the sweep invalidate in-memory handles whose backing
// file it just deleted. Satisfied by the attachment cache.
type MemoDropper interface {
	Forget(attachmentID string)
}

// Manager runs the periodic sweep over one cache directory.
type Manager struct {
	dir      string
	maxAge   time.Duration
	interval time.Duration
	memos    MemoDropper
	log      logging.Logger
	metrics  *metrics.Metrics

	cron *cron.Cron
	now  func() time.Time
}

func NewManager(dir string, maxAge, interval time.Duration, memos MemoDropper, log logging.Logger, m *metrics.Metrics) *Manager {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Manager{
		dir:      dir,
		maxAge:   maxAge,
		interval: interval,
		memos:    memos,
		log:      log,
		metrics:  m,
		now:      time.Now,
	}
}

// Start runs one immediate sweep, then schedules recurring sweeps until
// Stop is called or ctx is cancelled.
func (m *Manager) Start(ctx context.Context) error {
	if _, err := m.Sweep(ctx, m.maxAge); err != nil {
		m.log.Warn(ctx, "initial retention sweep failed", "error", err)
	}

	c := cron.New()
	_, err := c.AddFunc(fmt.Sprintf("@every %s", m.interval), func() {
		if _, err := m.Sweep(ctx, m.maxAge); err != nil {
			m.log.Warn(ctx, "retention sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule retention sweep: %w", err)
	}
	c.Start()
	m.cron = c

	go func() {
		<-ctx.Done()
		m.Stop()
	}()
	return nil
}

// Stop halts the recurring sweep. Safe to call more than once and
// before Start.
func (m *Manager) Stop() {
	if m.cron != nil {
		m.cron.Stop()
	}
}

// Sweep deletes every file in the cache directory whose modification time
// is older than maxAge. A missing directory counts as an empty cache.
func (m *Manager) Sweep(ctx context.Context, maxAge time.Duration) (SweepResult, error) {
	var res SweepResult

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			m.publish(Stats{})
			return res, nil
		}
		return res, fmt.Errorf("read cache dir: %w", err)
	}

	cutoff := m.now().Add(-maxAge)
	var remaining Stats
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.ScannedFiles++

		info, err := e.Info()
		if err != nil {
			res.Errors++
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(m.dir, e.Name())
			if err := os.Remove(path); err != nil {
				res.Errors++
				m.log.Warn(ctx, "failed to delete expired file", "file", e.Name(), "error", err)
				continue
			}
			res.DeletedFiles++
			res.FreedBytes += info.Size()
			m.metrics.RetentionDeleted.Inc()
			if m.memos != nil {
				m.memos.Forget(attachmentIDFor(e.Name()))
			}
			continue
		}
		accumulate(&remaining, info)
	}

	m.publish(remaining)
	if res.DeletedFiles > 0 || res.Errors > 0 {
		m.log.Info(ctx, "retention sweep finished",
			"scanned", res.ScannedFiles, "deleted", res.DeletedFiles,
			"freed_bytes", res.FreedBytes, "errors", res.Errors)
	}
	return res, nil
}

// Stats walks the cache directory and reports its size and age spread.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	var s Stats

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return s, fmt.Errorf("read cache dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		accumulate(&s, info)
	}
	m.publish(s)
	return s, nil
}

func accumulate(s *Stats, info os.FileInfo) {
	s.TotalFiles++
	s.TotalSize += info.Size()
	mt := info.ModTime()
	if s.OldestFile.IsZero() || mt.Before(s.OldestFile) {
		s.OldestFile = mt
	}
	if mt.After(s.NewestFile) {
		s.NewestFile = mt
	}
}

func (m *Manager) publish(s Stats) {
	m.metrics.RetentionFiles.Set(float64(s.TotalFiles))
	m.metrics.RetentionBytes.Set(float64(s.TotalSize))
}

// attachmentIDFor recovers the attachment id from a cache file name of the
// form <attachmentID>_<unixMilli><ext>.
func attachmentIDFor(name string) string {
	if i := strings.LastIndex(name, "_"); i > 0 {
		return name[:i]
	}
	return strings.TrimSuffix(name, filepath.Ext(name))
}
