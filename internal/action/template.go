// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package action

import (
	"regexp"

	"greywall.dev/jaild/internal/errors"
)

var tagRE = regexp.MustCompile(`<([A-Za-z0-9_-]+)>`)

// maxSubstitutionPasses bounds tag-referencing-tag recursion so a
// cyclic template can't hang the renderer.
const maxSubstitutionPasses = 10

// Render replaces every <tag> in tmpl with tags[tag], iterating until
// a fixed point (a substituted value may itself contain tags) or
// maxSubstitutionPasses is reached. An unresolved tag after the final
// pass is an error, mirroring fail2ban's "unsubstituted tag" failure.
func Render(tmpl string, tags map[string]string) (string, error) {
	out := tmpl
	for pass := 0; pass < maxSubstitutionPasses; pass++ {
		changed := false
		out = tagRE.ReplaceAllStringFunc(out, func(m string) string {
			name := tagRE.FindStringSubmatch(m)[1]
			if v, ok := tags[name]; ok {
				changed = true
				return v
			}
			return m
		})
		if !changed {
			break
		}
	}
	if m := tagRE.FindStringSubmatch(out); m != nil {
		return "", errors.Errorf(errors.KindSubstitution, "unresolved tag <%s> in action template", m[1])
	}
	return out, nil
}
