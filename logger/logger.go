// Package logger defines the small logging interface the router, realm,
// and broker depend on, so they never import a concrete logging library
// directly. A stdlib-backed implementation is installed by default; the
// CLI may swap in the logrus-backed one (see logrus.go) at startup.
package logger

import (
	stdlog "log"
	"os"
)

// Logger is the method set of *log.Logger. Anything satisfying it,
// stdlib or otherwise, can be installed as the package's active logger.
type Logger interface {
	Print(v ...interface{})
	Printf(format string, v ...interface{})
	Println(v ...interface{})
	Fatal(v ...interface{})
	Fatalf(format string, v ...interface{})
	Fatalln(v ...interface{})
	Panic(v ...interface{})
	Panicf(format string, v ...interface{})
	Panicln(v ...interface{})
}

// NewStandard returns a Logger backed by the standard library's log.Logger,
// writing to stdout with the conventional date/time prefix.
func NewStandard() Logger {
	return stdlog.New(os.Stdout, "", stdlog.LstdFlags)
}
