// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: github.com/bassosimone/nop's Config/NewConfig.

package chancore

import "time"

// Config holds common configuration for a [Channel].
//
// Pass this to [NewChannel] to pre-wire dependencies. All fields have
// sensible defaults set by [NewConfig].
type Config struct {
	// TimeNow returns the current time.
	//
	// Set by [NewConfig] to [time.Now]. Tests override this to drive the
	// action thread deterministically.
	TimeNow func() time.Time

	// Logger is the [Logger] used for structured logging.
	//
	// Set by [NewConfig] to [DefaultLogger].
	Logger Logger

	// ErrClassifier classifies the underlying cause of a component
	// failure for structured logging.
	//
	// Set by [NewConfig] to [DefaultErrClassifier].
	ErrClassifier ErrClassifier

	// MaxEncodingTime is the default lead time before an action's
	// timestamp at which the action thread starts encoding it, used when
	// the chosen Encoding does not report a larger encoding_time of its
	// own.
	//
	// Set by [NewConfig] to 100ms.
	MaxEncodingTime time.Duration

	// LookaheadWindow is how far past "now" the action thread requests
	// timeline refreshes for.
	//
	// Set by [NewConfig] to 60s.
	LookaheadWindow time.Duration

	// WildcardFetchInterval is how often the action thread asks the
	// Transport to perform a read-side (polling) action on every link.
	//
	// Set by [NewConfig] to 30s.
	WildcardFetchInterval time.Duration
}

// NewConfig creates a [*Config] with sensible defaults.
func NewConfig() *Config {
	return &Config{
		TimeNow:               timeNowUTC,
		Logger:                DefaultLogger(),
		ErrClassifier:         DefaultErrClassifier,
		MaxEncodingTime:       100 * time.Millisecond,
		LookaheadWindow:       60 * time.Second,
		WildcardFetchInterval: 30 * time.Second,
	}
}

func timeNowUTC() time.Time {
	return time.Now()
}
