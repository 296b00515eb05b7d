package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// logrusLogger adapts a *logrus.Logger to the Logger interface so router
// code can log structured (JSON) output without knowing logrus exists.
type logrusLogger struct {
	*logrus.Logger
}

// NewLogrus returns a Logger that emits structured JSON lines via logrus,
// selected by the router CLI's --json-logs flag or log-format = "json" in
// its configuration file.
func NewLogrus() Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.JSONFormatter{})
	l.SetOutput(os.Stdout)
	return &logrusLogger{Logger: l}
}

// *logrus.Logger already has every method of Logger with the same
// signature as *log.Logger, so embedding alone satisfies the interface and
// nothing needs forwarding here.
var _ Logger = (*logrusLogger)(nil)
