package checks

import (
	"runtime/debug"
	"strings"

	"github.com/phuslu/log"
)

// Checks has its own package, to prevent dependency cycles

// Check logs the error with a stack trace and exits. Use it only where an
// error leaves no sensible way to continue, such as a failed write to the
// output stream.
func Check(err error) {
	if err != nil {
		stack := strings.Join(strings.Split(string(debug.Stack()), "\n")[5:], "\n")
		log.Fatal().Stack().Err(err).Msg(stack)
	}
}

// CheckWithMessage is Check with an explanatory message on the log line.
func CheckWithMessage(err error, message string) {
	if err != nil {
		stack := strings.Join(strings.Split(string(debug.Stack()), "\n")[5:], "\n")
		log.Fatal().Stack().Err(err).Str("stack", stack).Msg(message)
	}
}
