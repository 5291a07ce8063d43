package config

import "time"

// Duration wraps time.Duration so it can appear in TOML as a plain
// string ("30s", "2m") instead of a raw nanosecond integer.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}
