// Package logtest records log lines for assertions in tests.
package logtest

import (
	"fmt"
	"strings"
	"sync"
)

type Level string

const (
	Info    Level = "INFO"
	Warning Level = "WARNING"
	Error   Level = "ERROR"
)

type Line struct {
	Level Level
	Msg   string
}

// Recorder implements types.Logger
type Recorder struct {
	mu    sync.Mutex
	lines []Line
}

func (r *Recorder) add(level Level, format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, Line{Level: level, Msg: fmt.Sprintf(format, args...)})
}

func (r *Recorder) Infof(format string, args ...interface{}) {
	r.add(Info, format, args...)
}

func (r *Recorder) Warningf(format string, args ...interface{}) {
	r.add(Warning, format, args...)
}

func (r *Recorder) Errorf(format string, args ...interface{}) {
	r.add(Error, format, args...)
}

// Lines returns the recorded lines of level, all of them when level is empty
func (r *Recorder) Lines(level Level) []Line {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Line
	for _, l := range r.lines {
		if level == "" || l.Level == level {
			out = append(out, l)
		}
	}
	return out
}

// Count returns how many lines of level contain substr
func (r *Recorder) Count(level Level, substr string) int {
	n := 0
	for _, l := range r.Lines(level) {
		if strings.Contains(l.Msg, substr) {
			n++
		}
	}
	return n
}
