package types

import (
	"fmt"

	"github.com/golang/glog"
)

// TagMapping maps a GPU UUID to the tags of the container currently holding it
type TagMapping map[string][]string

// Logger is the subset of glog the collector components log through
type Logger interface {
	Infof(format string, args ...interface{})
	Warningf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// GlogLogger forwards to the glog package level functions
type GlogLogger struct{}

func (GlogLogger) Infof(format string, args ...interface{}) {
	glog.InfoDepth(1, fmt.Sprintf(format, args...))
}

func (GlogLogger) Warningf(format string, args ...interface{}) {
	glog.WarningDepth(1, fmt.Sprintf(format, args...))
}

func (GlogLogger) Errorf(format string, args ...interface{}) {
	glog.ErrorDepth(1, fmt.Sprintf(format, args...))
}
