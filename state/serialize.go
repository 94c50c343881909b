package state

import (
	"time"
)

// Interval is a time.Duration written as a human readable string, e.g. "5s", in config files.
type Interval time.Duration

func (i Interval) Duration() time.Duration {
	return time.Duration(i)
}

func (i Interval) MarshalText() ([]byte, error) {
	return []byte(time.Duration(i).String()), nil
}

func (i *Interval) UnmarshalText(text []byte) error {
	d, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*i = Interval(d)
	return nil
}
