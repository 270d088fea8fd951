package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "loggerbot/pkg/logx"
)

// recentWindow is how many records the file store keeps in memory for
// Recent. Older records stay on disk only.
const recentWindow = 512

// fileStore appends records to <prefix>.deliveries.jsonl.
type fileStore struct {
	log  logx.Logger
	path string

	mu     sync.Mutex
	f      *os.File
	recent []Record // ring, oldest first once full
	next   int
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{log: log, path: filepath.Join(dir, base) + ".deliveries.jsonl"}
	if err := s.loadTail(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("audit log tail unreadable; starting with empty window", logx.Err(err))
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.f = f
	return s, nil
}

func (s *fileStore) loadTail() error {
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		var r Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		s.remember(r)
	}
	return sc.Err()
}

func (s *fileStore) remember(r Record) {
	if len(s.recent) < recentWindow {
		s.recent = append(s.recent, r)
		return
	}
	s.recent[s.next] = r
	s.next = (s.next + 1) % recentWindow
}

func (s *fileStore) AppendDelivery(_ context.Context, r Record) error {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	b = append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrClosed
	}
	if _, err := s.f.Write(b); err != nil {
		return err
	}
	s.remember(r)
	return nil
}

func (s *fileStore) Recent(_ context.Context, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.recent)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Record, 0, limit)
	// Newest is just before next once the ring is full, else at the end.
	newest := n - 1
	if n == recentWindow {
		newest = (s.next - 1 + n) % n
	}
	for i := 0; i < limit; i++ {
		out = append(out, s.recent[(newest-i+n)%n])
	}
	return out, nil
}

// Prune rewrites the file without records older than before.
func (s *fileStore) Prune(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return 0, ErrClosed
	}

	in, err := os.Open(s.path)
	if err != nil {
		return 0, err
	}
	tmpPath := s.path + ".tmp"
	out, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		_ = in.Close()
		return 0, err
	}

	removed := 0
	w := bufio.NewWriter(out)
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		var r Record
		if err := json.Unmarshal(sc.Bytes(), &r); err == nil && r.At.Before(before) {
			removed++
			continue
		}
		_, _ = w.Write(sc.Bytes())
		_ = w.WriteByte('\n')
	}
	scanErr := sc.Err()
	_ = in.Close()
	if err := w.Flush(); err != nil {
		_ = out.Close()
		return 0, err
	}
	if err := out.Close(); err != nil {
		return 0, err
	}
	if scanErr != nil {
		_ = os.Remove(tmpPath)
		return 0, scanErr
	}
	if removed == 0 {
		return 0, os.Remove(tmpPath)
	}

	_ = s.f.Close()
	if err := os.Rename(tmpPath, s.path); err != nil {
		return 0, err
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		s.f = nil
		return removed, err
	}
	s.f = f

	kept := s.recent[:0:0]
	for _, r := range s.ordered() {
		if !r.At.Before(before) {
			kept = append(kept, r)
		}
	}
	s.recent, s.next = kept, 0
	return removed, nil
}

// ordered returns the window oldest first.
func (s *fileStore) ordered() []Record {
	if len(s.recent) < recentWindow {
		return append([]Record(nil), s.recent...)
	}
	out := make([]Record, 0, recentWindow)
	out = append(out, s.recent[s.next:]...)
	return append(out, s.recent[:s.next]...)
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
