// Package logx hands out per-layer logrus entries. Output is discarded
// unless enabled, so instrumented code paths cost nothing in normal use.
package logx

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var root = newRoot()

func newRoot() *logrus.Logger {
	l := logrus.New()
	l.Level = logrus.DebugLevel
	l.Out = io.Discard
	if os.Getenv("MDBG_LOG") != "" {
		l.Out = os.Stderr
	}
	return l
}

// Enable routes log output to stderr.
func Enable() {
	root.Out = os.Stderr
}

// Layer returns an entry tagged with the originating layer.
func Layer(name string) *logrus.Entry {
	return root.WithFields(logrus.Fields{"layer": name})
}
