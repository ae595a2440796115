package httpapi

import (
	"encoding/json"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/mux"
)

type auditEntry struct {
	Time       time.Time `json:"time"`
	Action     string    `json:"action"`
	Target     string    `json:"target,omitempty"`
	Path       string    `json:"path"`
	Method     string    `json:"method"`
	Status     int       `json:"status"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
}

// auditLog keeps the most recent operator actions in memory.
type auditLog struct {
	mu      sync.Mutex
	entries []auditEntry
	max     int
	sink    auditSink
}

type auditSink interface {
	Write(entry auditEntry) error
}

func newAuditLog(max int, sink auditSink) *auditLog {
	if max <= 0 {
		max = 200
	}
	return &auditLog{max: max, sink: sink}
}

func (l *auditLog) add(entry auditEntry) error {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
	sink := l.sink
	l.mu.Unlock()

	if sink == nil {
		return nil
	}
	return sink.Write(entry)
}

func (l *auditLog) listLimit(limit int) []auditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 || limit > len(l.entries) {
		limit = len(l.entries)
	}
	out := make([]auditEntry, limit)
	copy(out, l.entries[len(l.entries)-limit:])
	return out
}

func (h *Handler) record(r *http.Request, action string, status int) {
	vars := mux.Vars(r)
	target := vars["id"]
	if target == "" {
		target = vars["address"]
	}
	entry := auditEntry{
		Time:       time.Now().UTC(),
		Action:     action,
		Target:     target,
		Path:       r.URL.Path,
		Method:     r.Method,
		Status:     status,
		RemoteAddr: r.RemoteAddr,
		UserAgent:  r.UserAgent(),
	}
	if err := h.audit.add(entry); err != nil {
		h.log.WithError(err).WithField("action", action).Warn("persist audit entry")
	}
}

// fileAuditSink appends audit entries as JSONL.
type fileAuditSink struct {
	mu   sync.Mutex
	file *os.File
}

func newFileAuditSink(path string) (*fileAuditSink, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, err
	}
	return &fileAuditSink{file: f}, nil
}

func (s *fileAuditSink) Write(entry auditEntry) error {
	if s == nil || s.file == nil {
		return nil
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.file.Write(append(b, '\n'))
	return err
}

func (s *fileAuditSink) Close() error {
	if s == nil || s.file == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
