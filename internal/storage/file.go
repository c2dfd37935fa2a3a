package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/iotpi-space/pi-sat/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.events.jsonl    (append-only JSON Lines)
//   - <prefix>.snapshots.jsonl (append-only JSON Lines)
//   - <prefix>.latest.json     (most recent snapshot, replaced atomically)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	eventFile    *os.File
	snapshotFile *os.File
	latestPath   string
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	eventPath := prefix + ".events.jsonl"
	snapPath := prefix + ".snapshots.jsonl"
	latestPath := prefix + ".latest.json"

	ef, err := os.OpenFile(eventPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	sf, err := os.OpenFile(snapPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = ef.Close()
		return nil, err
	}

	return &fileStore{
		log:          log,
		eventFile:    ef,
		snapshotFile: sf,
		latestPath:   latestPath,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.eventFile != nil {
		err1 = s.eventFile.Close()
		s.eventFile = nil
	}
	if s.snapshotFile != nil {
		err2 = s.snapshotFile.Close()
		s.snapshotFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) AppendEvent(ctx context.Context, e EventRecord) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eventFile == nil {
		return errors.New("event file closed")
	}
	return json.NewEncoder(s.eventFile).Encode(e)
}

func (s *fileStore) AppendSnapshot(ctx context.Context, r SnapshotRecord) error {
	_ = ctx
	if r.At.IsZero() {
		r.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshotFile == nil {
		return errors.New("snapshot file closed")
	}
	if err := json.NewEncoder(s.snapshotFile).Encode(r); err != nil {
		return err
	}
	// Best-effort refresh of the latest-snapshot file.
	if err := s.writeLatestLocked(r); err != nil {
		s.log.Debug("latest snapshot write failed", logx.Err(err))
	}
	return nil
}

func (s *fileStore) writeLatestLocked(r SnapshotRecord) error {
	tmp := s.latestPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(r); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.latestPath)
}
