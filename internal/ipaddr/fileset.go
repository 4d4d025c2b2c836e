// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ipaddr

import (
	"bufio"
	"os"
	"strings"
	"sync"
	"time"

	"greywall.dev/jaild/internal/clock"
)

// FileSet is a Set whose contents are lazily reloaded from a file of
// whitespace-separated entries (comments starting with '#' or ';'
// ignored), mirroring FileIPAddrSet's `file:` ignoreip entries.
type FileSet struct {
	path string

	mu          sync.Mutex
	set         *Set
	nextCheck   time.Time
	modTime     time.Time
	size        int64
	maxLatency  time.Duration
}

// NewFileSet returns a FileSet reading entries from path. The file is
// not read until the first Contains call.
func NewFileSet(path string) *FileSet {
	return &FileSet{path: path, set: NewSet(), maxLatency: time.Second}
}

// Contains loads (or reloads, if the file changed) the backing file
// and reports whether ip is a member.
func (f *FileSet) Contains(entry string) bool {
	f.load(false)
	return f.set.Contains(entry)
}

// Reload forces a reload regardless of the modification-check interval.
func (f *FileSet) Reload() error {
	return f.loadErr(true)
}

func (f *FileSet) load(force bool) {
	_ = f.loadErr(force)
}

func (f *FileSet) loadErr(force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := clock.Now()
	if !force && now.Before(f.nextCheck) {
		return nil
	}
	f.nextCheck = now.Add(f.maxLatency)

	info, err := os.Stat(f.path)
	if err != nil {
		f.nextCheck = now.Add(time.Minute)
		return err
	}
	if !force && info.ModTime().Equal(f.modTime) && info.Size() == f.size {
		return nil
	}
	f.modTime = info.ModTime()
	f.size = info.Size()

	fh, err := os.Open(f.path)
	if err != nil {
		f.nextCheck = now.Add(time.Minute)
		return err
	}
	defer fh.Close()

	var entries []string
	sc := bufio.NewScanner(fh)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		entries = append(entries, strings.Fields(line)...)
	}
	f.set.Set(entries)
	return nil
}

func (f *FileSet) String() string {
	return "file:" + f.path
}
