// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package filter turns log lines into FailTickets: date detection,
// ignore/fail regex matching, host-id extraction, and ignore-list
// checks, grounded on spec.md §4.E.
package filter

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"greywall.dev/jaild/internal/clock"
	"greywall.dev/jaild/internal/dnscache"
	"greywall.dev/jaild/internal/ipaddr"
	"greywall.dev/jaild/internal/logging"
	"greywall.dev/jaild/internal/ticket"
)

var log = logging.WithComponent("filter")

// IgnoreCache is a small keyed memo so repeated callouts/lookups for
// the same id within a TTL window don't re-run ignoreCommand or DNS
// resolution on every matched line.
type IgnoreCache struct {
	ttl     time.Duration
	entries map[string]cacheEntry
}

type cacheEntry struct {
	ignore  bool
	expires time.Time
}

// NewIgnoreCache returns a cache whose entries expire after ttl.
func NewIgnoreCache(ttl time.Duration) *IgnoreCache {
	return &IgnoreCache{ttl: ttl, entries: make(map[string]cacheEntry)}
}

func (c *IgnoreCache) get(id string) (bool, bool) {
	if c == nil {
		return false, false
	}
	e, ok := c.entries[id]
	if !ok || clock.Now().After(e.expires) {
		return false, false
	}
	return e.ignore, true
}

func (c *IgnoreCache) set(id string, ignore bool) {
	if c == nil {
		return
	}
	c.entries[id] = cacheEntry{ignore: ignore, expires: clock.Now().Add(c.ttl)}
}

// Config holds a filter's rule set and knobs, spec.md §4.E.
type Config struct {
	FailRegex    []*regexp.Regexp
	IgnoreRegex  []*regexp.Regexp
	PrefRegex    *regexp.Regexp
	IgnoreIP     *ipaddr.Set
	IgnoreSelf   bool
	IgnoreCommand func(id string) (bool, error)
	IgnoreCache  *IgnoreCache
	FindTime     time.Duration
	MaxRetry     int
	MaxLines     int
	MaxMatches   int
	UseDNS       string // "yes", "warn", "no"
	DatePattern  string // "Epoch", "TAI64N", "", or a strftime-ish pattern
}

// Filter applies Config to a stream of log lines.
type Filter struct {
	mu       sync.RWMutex
	cfg      Config
	resolver *dnscache.Resolver
	mlBuf    []string
	dateCmp  *compiledDate
}

// New returns a Filter using cfg and resolver for host-id DNS lookups.
func New(cfg Config, resolver *dnscache.Resolver) *Filter {
	if resolver == nil {
		resolver = dnscache.Default()
	}
	f := &Filter{cfg: cfg, resolver: resolver}
	f.recompileDatePattern()
	return f
}

// recompileDatePattern rebuilds the cached strftime-style matcher for
// cfg.DatePattern. "Epoch" and "TAI64N" are handled directly by
// detectDate and never reach the compiler. An invalid pattern is
// logged and leaves date detection falling back to "now", rather than
// failing the whole filter.
func (f *Filter) recompileDatePattern() {
	f.dateCmp = nil
	switch f.cfg.DatePattern {
	case "", "Epoch", "TAI64N":
		return
	}
	cmp, err := compileDatePattern(f.cfg.DatePattern)
	if err != nil {
		log.Warn("invalid datepattern, falling back to line-receipt time", "pattern", f.cfg.DatePattern, "error", err)
		return
	}
	f.dateCmp = cmp
}

// ProcessLine runs one log line through the filter pipeline, returning
// a FailTicket when a fail regex matched an id that survived the
// ignore checks. A nil ticket with a nil error means the line matched
// nothing or was explicitly ignored; a non-nil error means the line
// was unparseable in some reportable way (the caller decides whether
// that's worth logging — spec.md says unparseable lines are silently
// skipped, so most callers should ignore a non-nil err here too).
func (f *Filter) ProcessLine(ctx context.Context, line string) (*ticket.FailTicket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	at, body := f.detectDate(line)

	if f.cfg.PrefRegex != nil {
		loc := f.cfg.PrefRegex.FindStringIndex(body)
		if loc == nil {
			return nil, nil
		}
		body = body[loc[1]:]
	}

	for _, re := range f.cfg.IgnoreRegex {
		if re.MatchString(body) {
			return nil, nil
		}
	}

	if f.cfg.MaxLines > 1 {
		f.mlBuf = append(f.mlBuf, body)
		if len(f.mlBuf) > f.cfg.MaxLines {
			f.mlBuf = f.mlBuf[len(f.mlBuf)-f.cfg.MaxLines:]
		}
		body = strings.Join(f.mlBuf, "\n")
	}

	for _, re := range f.cfg.FailRegex {
		m := re.FindStringSubmatch(body)
		if m == nil {
			continue
		}
		id, ok := extractID(re, m)
		if !ok {
			continue
		}
		if f.shouldIgnore(ctx, id) {
			return nil, nil
		}
		return ticket.NewFail(id, at, []string{line}), nil
	}
	return nil, nil
}

// extractID pulls a host identifier out of a fail regex match, trying
// <HOST>/F-ID/F-IP4/F-IP6/DNS named groups in order, per spec.md §4.E.
func extractID(re *regexp.Regexp, m []string) (string, bool) {
	names := re.SubexpNames()
	order := []string{"HOST", "F-ID", "F-IP4", "F-IP6", "DNS", "IP4", "IP6"}
	byName := make(map[string]string, len(names))
	for i, n := range names {
		if n != "" && i < len(m) && m[i] != "" {
			byName[n] = m[i]
		}
	}
	for _, want := range order {
		if v, ok := byName[want]; ok {
			return v, true
		}
	}
	return "", false
}

func (f *Filter) shouldIgnore(ctx context.Context, id string) bool {
	if cached, ok := f.cfg.IgnoreCache.get(id); ok {
		return cached
	}
	ignore := f.computeIgnore(ctx, id)
	f.cfg.IgnoreCache.set(id, ignore)
	return ignore
}

func (f *Filter) computeIgnore(ctx context.Context, id string) bool {
	ip := ipaddr.New(id)

	if f.cfg.IgnoreSelf {
		for _, self := range f.resolver.GetSelfIPs() {
			if ip.Equal(self) {
				return true
			}
		}
	}

	if f.cfg.IgnoreIP != nil && f.cfg.IgnoreIP.Contains(id) {
		return true
	}

	if f.cfg.IgnoreCommand != nil {
		ignore, err := f.cfg.IgnoreCommand(id)
		if err != nil {
			log.Warn("ignorecommand callout failed", "id", id, "error", err)
			return false
		}
		if ignore {
			return true
		}
	}

	return false
}

// detectDate recovers the event time from a log line per
// cfg.DatePattern, returning the (possibly unmodified) line body.
// "Epoch" and "TAI64N" are the two built-in shorthand formats; any
// other pattern is run through the compiled strftime-style matcher
// (dateCmp), optionally "^"-anchored to the start of the line. A
// pattern that fails to match, or no pattern at all, falls back to
// "now", matching fail2ban's behavior for log sources that provide
// their own ordering.
func (f *Filter) detectDate(line string) (time.Time, string) {
	switch f.cfg.DatePattern {
	case "Epoch":
		fields := strings.Fields(line)
		if len(fields) > 0 {
			var sec int64
			if _, err := fmt.Sscanf(fields[0], "%d", &sec); err == nil {
				return time.Unix(sec, 0), strings.TrimPrefix(line, fields[0]+" ")
			}
		}
	case "TAI64N":
		fields := strings.Fields(line)
		if len(fields) > 0 && len(fields[0]) == 25 && strings.HasPrefix(fields[0], "@") {
			if t, ok := parseTAI64N(fields[0]); ok {
				return t, strings.TrimPrefix(line, fields[0]+" ")
			}
		}
	default:
		if f.dateCmp != nil {
			if t, rest, ok := f.dateCmp.extract(line); ok {
				return t, rest
			}
		}
	}
	return clock.Now(), line
}

func parseTAI64N(s string) (time.Time, bool) {
	var sec int64
	var nsec int64
	if len(s) != 25 {
		return time.Time{}, false
	}
	if _, err := fmt.Sscanf(s[1:17], "%x", &sec); err != nil {
		return time.Time{}, false
	}
	if _, err := fmt.Sscanf(s[17:25], "%x", &nsec); err != nil {
		return time.Time{}, false
	}
	const taiEpochOffset = 1 << 62
	return time.Unix(sec-taiEpochOffset, nsec), true
}

// AddIgnoreIP adds ip (a single address or CIDR) to the filter's
// ignore list, creating one if none exists yet.
func (f *Filter) AddIgnoreIP(ip string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cfg.IgnoreIP == nil {
		f.cfg.IgnoreIP = ipaddr.NewSet()
	}
	f.cfg.IgnoreIP.Add(ip)
}

// DelIgnoreIP removes ip from the filter's ignore list.
func (f *Filter) DelIgnoreIP(ip string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cfg.IgnoreIP != nil {
		f.cfg.IgnoreIP.Remove(ip)
	}
}

// IgnoreIPList returns the filter's configured ignore-IP entries.
func (f *Filter) IgnoreIPList() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.cfg.IgnoreIP == nil {
		return nil
	}
	return f.cfg.IgnoreIP.List()
}

// IgnoreSelf reports the current ignoreself setting.
func (f *Filter) IgnoreSelf() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.cfg.IgnoreSelf
}

// SetIgnoreSelf changes whether the filter ignores its own host's IPs.
func (f *Filter) SetIgnoreSelf(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg.IgnoreSelf = v
}

// AddFailRegex compiles and appends re to the filter's fail regex list.
func (f *Filter) AddFailRegex(pattern string) error {
	re, err := compileNamed(pattern)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg.FailRegex = append(f.cfg.FailRegex, re)
	return nil
}

// DelFailRegex removes the fail regex at index.
func (f *Filter) DelFailRegex(index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if index < 0 || index >= len(f.cfg.FailRegex) {
		return fmt.Errorf("filter: failregex index %d out of range", index)
	}
	f.cfg.FailRegex = append(f.cfg.FailRegex[:index], f.cfg.FailRegex[index+1:]...)
	return nil
}

// FailRegexList returns the source text of every configured fail regex.
func (f *Filter) FailRegexList() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, len(f.cfg.FailRegex))
	for i, re := range f.cfg.FailRegex {
		out[i] = re.String()
	}
	return out
}

// AddIgnoreRegex compiles and appends re to the filter's ignore regex list.
func (f *Filter) AddIgnoreRegex(pattern string) error {
	re, err := compileNamed(pattern)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg.IgnoreRegex = append(f.cfg.IgnoreRegex, re)
	return nil
}

// DelIgnoreRegex removes the ignore regex at index.
func (f *Filter) DelIgnoreRegex(index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if index < 0 || index >= len(f.cfg.IgnoreRegex) {
		return fmt.Errorf("filter: ignoreregex index %d out of range", index)
	}
	f.cfg.IgnoreRegex = append(f.cfg.IgnoreRegex[:index], f.cfg.IgnoreRegex[index+1:]...)
	return nil
}

// IgnoreRegexList returns the source text of every configured ignore regex.
func (f *Filter) IgnoreRegexList() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, len(f.cfg.IgnoreRegex))
	for i, re := range f.cfg.IgnoreRegex {
		out[i] = re.String()
	}
	return out
}

// SetFindTime changes the sliding window used for rate re-estimation.
func (f *Filter) SetFindTime(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg.FindTime = d
}

// FindTime returns the current sliding window.
func (f *Filter) FindTime() time.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.cfg.FindTime
}

// SetMaxRetry changes the failure threshold.
func (f *Filter) SetMaxRetry(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg.MaxRetry = n
}

// MaxRetry returns the current failure threshold.
func (f *Filter) MaxRetry() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.cfg.MaxRetry
}

// SetMaxMatches changes the per-ticket matched-line cap.
func (f *Filter) SetMaxMatches(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg.MaxMatches = n
}

// MaxMatches returns the current per-ticket matched-line cap.
func (f *Filter) MaxMatches() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.cfg.MaxMatches
}

// SetMaxLines changes the multi-line match buffer depth.
func (f *Filter) SetMaxLines(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg.MaxLines = n
}

// MaxLines returns the current multi-line match buffer depth.
func (f *Filter) MaxLines() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.cfg.MaxLines
}

// SetUseDNS changes the usedns mode ("yes", "warn", "no").
func (f *Filter) SetUseDNS(v string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg.UseDNS = v
}

// UseDNS returns the current usedns mode.
func (f *Filter) UseDNS() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.cfg.UseDNS
}

// SetDatePattern changes the log line date-detection pattern.
func (f *Filter) SetDatePattern(pattern string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg.DatePattern = pattern
	f.recompileDatePattern()
}

// DatePattern returns the current date-detection pattern.
func (f *Filter) DatePattern() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.cfg.DatePattern
}

// SetIgnoreCommand installs cmd as the filter's ignorecommand callout,
// rendered against an "ip" tag and run through the system shell with a
// 10s timeout, per fail2ban's ignorecommand semantics: exit status 0
// means ignore the id, anything else means don't.
func (f *Filter) SetIgnoreCommand(cmd string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cmd == "" {
		f.cfg.IgnoreCommand = nil
		return
	}
	f.cfg.IgnoreCommand = func(id string) (bool, error) {
		rendered := strings.ReplaceAll(cmd, "<ip>", id)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := exec.CommandContext(ctx, "/bin/sh", "-c", rendered).Run()
		if err == nil {
			return true, nil
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return false, nil
		}
		return false, err
	}
}

// IgnoreCommand reports whether an ignorecommand callout was set via
// SetIgnoreCommand; the raw template text is not retained.
func (f *Filter) IgnoreCommand() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.cfg.IgnoreCommand != nil
}

// SetIgnoreCache installs a fresh ignore-result cache with the given
// TTL, or clears it when ttl is zero.
func (f *Filter) SetIgnoreCache(ttl time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ttl <= 0 {
		f.cfg.IgnoreCache = nil
		return
	}
	f.cfg.IgnoreCache = NewIgnoreCache(ttl)
}

// compileNamed compiles a failregex/ignoreregex pattern, translating
// the <HOST> shorthand used throughout fail2ban's filter.d definitions
// into a named capture group the way Filter.extractID expects.
func compileNamed(pattern string) (*regexp.Regexp, error) {
	expanded := strings.ReplaceAll(pattern, "<HOST>", `(?P<HOST>\S+)`)
	re, err := regexp.Compile(expanded)
	if err != nil {
		return nil, fmt.Errorf("filter: invalid regex %q: %w", pattern, err)
	}
	return re, nil
}
