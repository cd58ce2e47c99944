package logging

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const maxEvidence = 64

// Verdict is written as a single JSON object per matched field or per
// request the engine could not inspect.
type Verdict struct {
	Timestamp  time.Time `json:"ts"`
	RequestID  string    `json:"request_id"`
	ClientIP   string    `json:"client_ip,omitempty"`
	Method     string    `json:"method,omitempty"`
	Host       string    `json:"host,omitempty"`
	Path       string    `json:"path,omitempty"`
	Field      string    `json:"field,omitempty"`
	RuleID     string    `json:"rule_id,omitempty"`
	Severity   string    `json:"severity,omitempty"`
	Category   string    `json:"category,omitempty"`
	Tier       string    `json:"tier,omitempty"`
	Generation uint64    `json:"generation,omitempty"`
	Mode       string    `json:"mode"`
	Action     string    `json:"action"`
	StatusCode int       `json:"status_code,omitempty"`
	Evidence   string    `json:"evidence,omitempty"`
}

type VerdictLogger struct {
	mu sync.Mutex
	w  io.Writer
}

func NewVerdictLogger(w io.Writer) *VerdictLogger {
	return &VerdictLogger{w: w}
}

func OpenVerdictLog(path string) (*VerdictLogger, func() error, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, err
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, err
	}
	return NewVerdictLogger(file), file.Close, nil
}

func (l *VerdictLogger) Write(verdict Verdict) error {
	if len(verdict.Evidence) > maxEvidence {
		verdict.Evidence = verdict.Evidence[:maxEvidence]
	}

	data, err := json.Marshal(verdict)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.w.Write(append(data, '\n'))
	return err
}
