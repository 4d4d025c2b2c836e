// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package logging

import (
	"fmt"
	"log/syslog"
)

// SyslogConfig configures the "SYSLOG" log target (spec.md §6's
// `set syslogsocket`/log target vocabulary).
type SyslogConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Protocol string // "udp" or "tcp"; "" means "udp"
	Tag      string
	Facility int
}

// DefaultSyslogConfig returns jaild's disabled-by-default syslog settings.
func DefaultSyslogConfig() SyslogConfig {
	return SyslogConfig{
		Enabled:  false,
		Port:     514,
		Protocol: "udp",
		Tag:      "jaild",
		Facility: 1,
	}
}

var facilities = map[int]syslog.Priority{
	0:  syslog.LOG_KERN,
	1:  syslog.LOG_USER,
	2:  syslog.LOG_MAIL,
	3:  syslog.LOG_DAEMON,
	4:  syslog.LOG_AUTH,
	5:  syslog.LOG_SYSLOG,
	16: syslog.LOG_LOCAL0,
	17: syslog.LOG_LOCAL1,
	18: syslog.LOG_LOCAL2,
	19: syslog.LOG_LOCAL3,
	20: syslog.LOG_LOCAL4,
	21: syslog.LOG_LOCAL5,
	22: syslog.LOG_LOCAL6,
	23: syslog.LOG_LOCAL7,
}

// NewSyslogWriter dials the syslog daemon described by cfg. Host is
// always required; an empty Protocol dials over udp. The local unix
// socket (/dev/log) is not supported.
func NewSyslogWriter(cfg SyslogConfig) (*syslog.Writer, error) {
	if cfg.Port == 0 {
		cfg.Port = 514
	}
	if cfg.Protocol == "" {
		cfg.Protocol = "udp"
	}
	if cfg.Tag == "" {
		cfg.Tag = "jaild"
	}
	prio, ok := facilities[cfg.Facility]
	if !ok {
		prio = syslog.LOG_USER
	}
	prio |= syslog.LOG_INFO

	if cfg.Host == "" {
		return nil, fmt.Errorf("logging: syslog host is required for network delivery")
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return syslog.Dial(cfg.Protocol, addr, prio, cfg.Tag)
}
