package util

import (
	"fmt"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ParseDuration parses a duration. A bare decimal number is taken as
// seconds; anything else must use Go duration syntax ("1m30s").
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if f < 0 {
			return 0, fmt.Errorf("invalid duration %q: must be non-negative", s)
		}
		return time.Duration(f * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid duration %q: must be non-negative", s)
	}
	return d, nil
}

var signals = map[string]syscall.Signal{
	"SIGHUP":  syscall.SIGHUP,
	"SIGINT":  syscall.SIGINT,
	"SIGQUIT": syscall.SIGQUIT,
	"SIGTERM": syscall.SIGTERM,
	"SIGUSR1": syscall.SIGUSR1,
	"SIGUSR2": syscall.SIGUSR2,
}

// ParseSignal parses a signal name ("SIGTERM", "term") or number. Only
// signals a host process can usefully wait for are accepted by name.
func ParseSignal(s string) (syscall.Signal, error) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	if sig, ok := signals[upper]; ok {
		return sig, nil
	}
	if sig, ok := signals["SIG"+upper]; ok {
		return sig, nil
	}

	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("unknown signal: %s", s)
	}
	return syscall.Signal(n), nil
}

// SplitList splits a comma separated list, dropping empty items.
func SplitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
