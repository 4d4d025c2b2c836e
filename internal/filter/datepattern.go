// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package filter

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"greywall.dev/jaild/internal/clock"
)

// strftimeDirective maps one strftime-style "%x" token to the regexp
// fragment that locates it in a log line and the Go reference-time
// layout fragment that parses it.
type strftimeDirective struct {
	re     string
	layout string
}

var strftimeDirectives = map[byte]strftimeDirective{
	'Y': {`\d{4}`, "2006"},
	'y': {`\d{2}`, "06"},
	'm': {`\d{2}`, "01"},
	'd': {`\d{2}`, "02"},
	'e': {`[ \d]\d`, "_2"},
	'H': {`\d{2}`, "15"},
	'M': {`\d{2}`, "04"},
	'S': {`\d{2}`, "05"},
	'b': {`[A-Za-z]{3}`, "Jan"},
	'B': {`[A-Za-z]+`, "January"},
	'a': {`[A-Za-z]{3}`, "Mon"},
	'z': {`[+-]\d{4}`, "-0700"},
	'Z': {`[A-Za-z]+`, "MST"},
	'%': {`%`, "%"},
}

// compiledDate is a user-supplied DatePattern compiled once into a
// search regex and a matching time.Parse layout, per spec.md §4.E's
// "small pattern compiler" over strftime-style tokens. A leading "^"
// in the source pattern anchors the match to the start of the line,
// mirroring fail2ban's own datepattern anchoring shorthand.
type compiledDate struct {
	anchored bool
	layout   string
	hasYear  bool
	re       *regexp.Regexp
}

// compileDatePattern turns a strftime-style pattern (optionally
// "^"-prefixed) into a compiledDate. Literal text between directives
// is matched verbatim.
func compileDatePattern(pattern string) (*compiledDate, error) {
	anchored := strings.HasPrefix(pattern, "^")
	if anchored {
		pattern = pattern[1:]
	}

	var reBuf, layoutBuf strings.Builder
	for i := 0; i < len(pattern); {
		c := pattern[i]
		if c == '%' && i+1 < len(pattern) {
			d, ok := strftimeDirectives[pattern[i+1]]
			if !ok {
				return nil, fmt.Errorf("filter: unsupported datepattern directive %%%c", pattern[i+1])
			}
			reBuf.WriteString(d.re)
			layoutBuf.WriteString(d.layout)
			i += 2
			continue
		}
		reBuf.WriteString(regexp.QuoteMeta(string(c)))
		layoutBuf.WriteString(string(c))
		i++
	}

	reStr := reBuf.String()
	if anchored {
		reStr = "^" + reStr
	}
	re, err := regexp.Compile(reStr)
	if err != nil {
		return nil, err
	}
	layout := layoutBuf.String()
	return &compiledDate{
		anchored: anchored,
		layout:   layout,
		hasYear:  strings.Contains(layout, "2006") || strings.Contains(layout, "06"),
		re:       re,
	}, nil
}

// extract locates and parses the pattern's date within line, returning
// the remainder of the line with the matched text (and one following
// separator, if any) stripped. Patterns without a year directive
// (typical syslog timestamps) are assumed to fall in the current
// year, matching fail2ban's own year-less datepattern handling.
func (c *compiledDate) extract(line string) (time.Time, string, bool) {
	loc := c.re.FindStringIndex(line)
	if loc == nil {
		return time.Time{}, line, false
	}
	matched := line[loc[0]:loc[1]]
	t, err := time.Parse(c.layout, matched)
	if err != nil {
		return time.Time{}, line, false
	}
	if !c.hasYear {
		t = t.AddDate(clock.Now().Year(), 0, 0)
	}
	rest := line[:loc[0]] + strings.TrimPrefix(line[loc[1]:], " ")
	return t, rest, true
}
