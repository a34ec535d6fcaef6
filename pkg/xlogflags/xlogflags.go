// Package xlogflags gates per-layer logging the way delve's pkg/logflags
// does: a disabled layer still goes through logrus, just at a level that
// never emits, so call sites never need to branch on whether logging is on.
package xlogflags

import (
	"errors"
	"log"
	"strings"

	"github.com/sirupsen/logrus"
)

var (
	breakpoints = false
	stepping    = false
	rspWire     = false
	xenctrl     = false
	xenstore    = false
	cli         = false
)

func makeLogger(flag bool, fields logrus.Fields) *logrus.Entry {
	logger := logrus.New().WithFields(fields)
	logger.Logger.Level = logrus.DebugLevel
	if !flag {
		logger.Logger.Level = logrus.PanicLevel
	}
	return logger
}

// Breakpoints reports whether the breakpoint manager layer should log.
func Breakpoints() bool { return breakpoints }

// BreakpointsLogger returns a logger for the breakpoint manager.
func BreakpointsLogger() *logrus.Entry {
	return makeLogger(breakpoints, logrus.Fields{"layer": "breakpoint"})
}

// Stepping reports whether the execution controller layer should log.
func Stepping() bool { return stepping }

// SteppingLogger returns a logger for the execution controller.
func SteppingLogger() *logrus.Entry {
	return makeLogger(stepping, logrus.Fields{"layer": "stepper"})
}

// RSPWire reports whether raw protocol payloads should be logged.
func RSPWire() bool { return rspWire }

// RSPWireLogger returns a logger for the protocol codec.
func RSPWireLogger() *logrus.Entry {
	return makeLogger(rspWire, logrus.Fields{"layer": "rsp"})
}

// Xenctrl reports whether the domain handle layer should log.
func Xenctrl() bool { return xenctrl }

// XenctrlLogger returns a logger for the domain handle.
func XenctrlLogger() *logrus.Entry {
	return makeLogger(xenctrl, logrus.Fields{"layer": "xenctrl"})
}

// Xenstore reports whether domain enumeration should log.
func Xenstore() bool { return xenstore }

// XenstoreLogger returns a logger for domain enumeration.
func XenstoreLogger() *logrus.Entry {
	return makeLogger(xenstore, logrus.Fields{"layer": "xenstore"})
}

// Cli reports whether the command-line frontend layer should log.
func Cli() bool { return cli }

// CliLogger returns a logger for the command-line frontend.
func CliLogger() *logrus.Entry {
	return makeLogger(cli, logrus.Fields{"layer": "cli"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets per-layer logging flags based on the contents of logstr, a
// comma-separated list of layer names.
func Setup(logFlag bool, logstr string) error {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "breakpoint"
	}
	for _, cmd := range strings.Split(logstr, ",") {
		switch cmd {
		case "breakpoint":
			breakpoints = true
		case "stepper":
			stepping = true
		case "rsp":
			rspWire = true
		case "xenctrl":
			xenctrl = true
		case "xenstore":
			xenstore = true
		case "cli":
			cli = true
		}
	}
	return nil
}
