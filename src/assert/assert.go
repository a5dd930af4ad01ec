package assert

import (
	"fmt"
	"log"
)

var logger *log.Logger = log.Default()

// Stop the world on programmer errors.
//
// Examples:
//
//   - A constructor received a `nil` dependency.
//   - Configuration values are invalid after validation already passed.
//   - Internal bookkeeping of the watch cache contradicts itself.
//
// Never use this for conditions caused by remote clusters or user input.
func Assert(condition bool, message ...any) {
	if !condition {
		for _, msg := range message {
			logger.Println("ASSERTION FAILED: ", tryStringify(msg))
		}
		panic("ASSERTION FAILED")
	}
}

func tryStringify(data any) any {
	switch value := data.(type) {
	case error:
		return value.Error()
	case fmt.Stringer:
		return value.String()
	default:
		return data
	}
}
