package shell

import (
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

var tty bool = isatty.IsTerminal(os.Stdout.Fd())

const (
	Normal      = ""
	Reset       = "\033[m"
	Bold        = "\033[1m"
	Red         = "\033[31m"
	Green       = "\033[32m"
	Yellow      = "\033[33m"
	Blue        = "\033[34m"
	Magenta     = "\033[35m"
	Cyan        = "\033[36m"
	FaintYellow = "\033[2;33m"
	Faint       = "\033[2m"
)

// Colorize shell output with provided colorcodes if os.Stdout is a terminal
func Colorize(msg string, colorCodes ...string) string {
	if !tty {
		return msg
	}
	return strings.Join(colorCodes, "") + msg + Reset
}

// Colorize a watch event type the same way for every command that prints one.
func ColorizeEventType(eventType string) string {
	switch eventType {
	case "ADDED":
		return Colorize(eventType, Green)
	case "MODIFIED":
		return Colorize(eventType, Yellow)
	case "DELETED":
		return Colorize(eventType, Red)
	default:
		return Colorize(eventType, Faint)
	}
}
