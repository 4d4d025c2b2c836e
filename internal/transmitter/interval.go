// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package transmitter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var intervalToken = regexp.MustCompile(`^(-?\d+)(s|mo|m|h|d|w|y)?$`)

var unitSeconds = map[string]int64{
	"":   1,
	"s":  1,
	"m":  60,
	"h":  3600,
	"d":  86400,
	"w":  604800,
	"mo": 2592000,  // 30 days
	"y":  31536000, // 365 days
}

// ParseInterval parses the control protocol's time-interval grammar:
// a single signed integer of seconds, the Permanent sentinel (-1), or
// space-separated amount+unit pairs like "15d 5h 30m 10s".
func ParseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("transmitter: empty time interval")
	}
	var total int64
	for _, tok := range strings.Fields(s) {
		m := intervalToken.FindStringSubmatch(tok)
		if m == nil {
			return 0, fmt.Errorf("transmitter: invalid time interval token %q", tok)
		}
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("transmitter: invalid time interval token %q: %w", tok, err)
		}
		total += n * unitSeconds[m[2]]
	}
	return time.Duration(total) * time.Second, nil
}

// ParseBool accepts fail2ban's bool spellings case-insensitively.
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "true", "on", "1":
		return true, nil
	case "no", "false", "off", "0":
		return false, nil
	default:
		return false, fmt.Errorf("transmitter: invalid boolean %q", s)
	}
}
