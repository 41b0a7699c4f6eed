//go:build windows

package audit

import "fmt"

// NewSyslogLogger is unavailable on Windows.
func NewSyslogLogger(config *Config) (Logger, error) {
	return nil, fmt.Errorf("syslog audit backend is not supported on windows")
}
