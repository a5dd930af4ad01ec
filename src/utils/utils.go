package utils

import (
	"fmt"
	"time"

	nanoid "github.com/jaevor/go-nanoid"
)

func Pointer[T any](value T) *T {
	return &value
}

var shortIdGenerator = mustCreateIdGenerator("abcdefghijklmnopqrstuvwxyz1234567890", 10)

func mustCreateIdGenerator(alphabet string, length int) func() string {
	generator, err := nanoid.Custom(alphabet, length)
	if err != nil {
		panic(fmt.Errorf("failed to create id generator: %w", err))
	}
	return generator
}

// Short lowercase id for correlating log lines, e.g. of a single socket.
func NanoIdSmallLowerCase() string {
	return shortIdGenerator()
}

// Parse a duration and reject negative values, for config validation.
func ParseNonNegativeDuration(value string) (time.Duration, error) {
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if duration < 0 {
		return 0, fmt.Errorf("duration may not be negative: %s", value)
	}
	return duration, nil
}
