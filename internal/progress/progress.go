// Package progress renders the color-coded progress lines §7 describes:
// green for success, yellow for warning, red for failure. It wraps logrus
// so every line still goes through the same structured logger the rest of
// the harness uses.
package progress

import (
	"github.com/Sirupsen/logrus"
	"github.com/fatih/color"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
)

// Success logs a green success line.
func Success(log *logrus.Entry, msg string) {
	log.Info(green(msg))
}

// Warn logs a yellow warning line.
func Warn(log *logrus.Entry, msg string) {
	log.Warn(yellow(msg))
}

// Fail logs a red failure line.
func Fail(log *logrus.Entry, msg string) {
	log.Error(red(msg))
}
