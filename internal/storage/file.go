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

	logx "raidbot/pkg/logx"
)

// fileStore keeps the scheduler document in one JSON file and the audit
// log in an append-only JSON Lines file next to it.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	schedulesPath string
	auditFile     *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileStore{
		log:           log,
		schedulesPath: prefix + ".schedules.json",
		auditFile:     af,
	}, nil
}

func (s *fileStore) LoadSchedules(ctx context.Context) (ScheduleDocument, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.schedulesPath)
	if errors.Is(err, os.ErrNotExist) {
		return ScheduleDocument{}, nil
	}
	if err != nil {
		return nil, err
	}
	doc := ScheduleDocument{}
	if len(strings.TrimSpace(string(b))) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *fileStore) SaveSchedules(ctx context.Context, doc ScheduleDocument) error {
	_ = ctx
	if doc == nil {
		doc = ScheduleDocument{}
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := s.schedulesPath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.schedulesPath); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	s.log.Debug("schedules saved", logx.Int("guilds", len(doc)), logx.Int("bytes", len(b)))
	return nil
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return nil
	}
	err := s.auditFile.Close()
	s.auditFile = nil
	return err
}
