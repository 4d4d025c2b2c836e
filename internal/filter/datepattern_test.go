// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"greywall.dev/jaild/internal/clock"
)

func TestCompileDatePatternAnchoredExtractsPrefix(t *testing.T) {
	cmp, err := compileDatePattern("^%Y-%m-%d %H:%M:%S")
	require.NoError(t, err)
	require.True(t, cmp.anchored)

	ts, rest, ok := cmp.extract("2026-07-30 08:15:30 sshd: Failed password for root")
	require.True(t, ok)
	require.Equal(t, "sshd: Failed password for root", rest)
	require.Equal(t, time.Date(2026, 7, 30, 8, 15, 30, 0, time.UTC), ts)
}

func TestCompileDatePatternUnanchoredSearchesLine(t *testing.T) {
	cmp, err := compileDatePattern("%Y-%m-%d %H:%M:%S")
	require.NoError(t, err)
	require.False(t, cmp.anchored)

	ts, _, ok := cmp.extract("host sshd[123]: 2026-07-30 08:15:30 authentication failure")
	require.True(t, ok)
	require.Equal(t, 2026, ts.Year())
}

func TestCompileDatePatternWithoutYearAssumesCurrentYear(t *testing.T) {
	mock := clock.NewMockClock(time.Date(2031, 1, 1, 0, 0, 0, 0, time.UTC))
	clock.Use(mock)
	defer clock.Use(nil)

	cmp, err := compileDatePattern("^%b %e %H:%M:%S")
	require.NoError(t, err)

	ts, rest, ok := cmp.extract("Jan  2 03:04:05 host sshd: Failed password")
	require.True(t, ok)
	require.Equal(t, 2031, ts.Year())
	require.Equal(t, "host sshd: Failed password", rest)
}

func TestCompileDatePatternRejectsUnknownDirective(t *testing.T) {
	_, err := compileDatePattern("%Q")
	require.Error(t, err)
}

func TestFilterUsesCompiledDatePattern(t *testing.T) {
	cfg := Config{DatePattern: "^%Y-%m-%d %H:%M:%S"}
	f := New(cfg, nil)
	require.NotNil(t, f.dateCmp)

	at, rest := f.detectDate("2026-07-30 08:15:30 test line")
	require.Equal(t, "test line", rest)
	require.Equal(t, 2026, at.Year())
}

func TestSetDatePatternRecompiles(t *testing.T) {
	f := New(Config{}, nil)
	require.Nil(t, f.dateCmp)

	f.SetDatePattern("^%Y-%m-%d")
	require.NotNil(t, f.dateCmp)

	f.SetDatePattern("garbage %Q")
	require.Nil(t, f.dateCmp)
}
