// Copyright 2026 Alibaba Group Holding Ltd.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package audit writes the append-only alert and action trails. Each line is
//
//	<timestamp> | <EVENT_TYPE> | PID=<pid> | <name> | <owner> | <details>
package audit

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap/zapcore"
)

const (
	TimeLayout = "2006-01-02 15:04:05.000"
	separator  = " | "
)

var ErrMalformedLine = errors.New("malformed audit line")

// Entry is one audit line.
type Entry struct {
	Time    time.Time `json:"time"`
	Event   string    `json:"event"`
	PID     int       `json:"pid"`
	Name    string    `json:"name"`
	Owner   string    `json:"owner"`
	Details string    `json:"details"`
}

// Log appends entries to one trail. It never truncates or rewrites.
type Log struct {
	mu     sync.Mutex
	core   zapcore.Core
	closer io.Closer
	now    func() time.Time
}

// Open appends to path, creating it and its directory if needed.
func Open(path string) (*Log, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log %s: %w", path, err)
	}
	l := New(f)
	l.closer = f
	return l, nil
}

// New writes entries to w.
func New(w io.Writer) *Log {
	enc := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		TimeKey:          "time",
		MessageKey:       "msg",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeTime:       zapcore.TimeEncoderOfLayout(TimeLayout),
		ConsoleSeparator: separator,
	})
	return &Log{
		core: zapcore.NewCore(enc, zapcore.AddSync(w), zapcore.DebugLevel),
		now:  time.Now,
	}
}

// Record appends e. A zero Time is stamped with the current time.
func (l *Log) Record(e Entry) error {
	if e.Time.IsZero() {
		e.Time = l.now()
	}
	msg := strings.Join([]string{
		clean(e.Event),
		"PID=" + strconv.Itoa(e.PID),
		clean(e.Name),
		clean(e.Owner),
		clean(e.Details),
	}, separator)

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.core.Write(zapcore.Entry{Time: e.Time, Message: msg}, nil)
}

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.core.Sync()
	if l.closer != nil {
		if cerr := l.closer.Close(); cerr != nil {
			return cerr
		}
		l.closer = nil
	}
	return err
}

// clean keeps a field on one line and free of the column separator.
func clean(s string) string {
	if s == "" {
		return "-"
	}
	return strings.NewReplacer("|", "/", "\n", " ", "\r", " ").Replace(s)
}

// ParseLine reads back one audit line.
func ParseLine(line string) (Entry, error) {
	parts := strings.SplitN(strings.TrimRight(line, "\r\n"), separator, 6)
	if len(parts) != 6 {
		return Entry{}, fmt.Errorf("%w: %d columns", ErrMalformedLine, len(parts))
	}
	ts, err := time.ParseInLocation(TimeLayout, parts[0], time.Local)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}
	pid, err := strconv.Atoi(strings.TrimPrefix(parts[2], "PID="))
	if err != nil || !strings.HasPrefix(parts[2], "PID=") {
		return Entry{}, fmt.Errorf("%w: bad pid column %q", ErrMalformedLine, parts[2])
	}
	return Entry{
		Time:    ts,
		Event:   parts[1],
		PID:     pid,
		Name:    parts[3],
		Owner:   parts[4],
		Details: parts[5],
	}, nil
}
