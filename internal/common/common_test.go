package common

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/freedevtools/fdtdb/pkg/storage"
	"github.com/freedevtools/fdtdb/pkg/verify"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"published", fmt.Errorf("open: %w", storage.ErrPublished), ExitPrecondition},
		{"wal", storage.ErrWALPresent, ExitPrecondition},
		{"verification", fmt.Errorf("step x: %w", verify.ErrVerificationFailed), ExitPrecondition},
		{"declined", ErrNotConfirmed, ExitPrecondition},
		{"other", errors.New("disk on fire"), ExitFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"  yes  \n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
		{"yep\n", false},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		got := Confirm(strings.NewReader(tt.input), &out, "Repair?")
		assert.Equal(t, tt.want, got, "input %q", tt.input)
		assert.Equal(t, "Repair? [y/N]: ", out.String())
	}
}

func TestNewLoggerLevels(t *testing.T) {
	ctx := t.Context()
	assert.False(t, NewLogger(true, true).Enabled(ctx, slog.LevelDebug))
	assert.True(t, NewLogger(false, true).Enabled(ctx, slog.LevelDebug))
	assert.False(t, NewLogger(false, false).Enabled(ctx, slog.LevelDebug))
}
