package transport

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchAny(t *testing.T) {
	patterns := []string{"*study_12.{txt,out,err}", "finished_*study_12.zip"}

	tests := []struct {
		name string
		want bool
	}{
		{"antares-study_12.txt", true},
		{"study_12.err", true},
		{"study_123.txt", false},
		{"finished_study_12.zip", true},
		{"finished_XPANSION_study_12.zip", true},
		{"study-alice.zip", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchAny(patterns, tt.name))
		})
	}
}

func TestEscapePattern(t *testing.T) {
	name := "case[1]{a}"
	pattern := EscapePattern(name) + "_3.txt"

	assert.True(t, MatchAny([]string{pattern}, "case[1]{a}_3.txt"))
	assert.False(t, MatchAny([]string{pattern}, "case1a_3.txt"))
}

func TestValidatePatterns(t *testing.T) {
	require.NoError(t, ValidatePatterns([]string{"*.zip", "a_{b,c}.txt"}))

	err := ValidatePatterns([]string{"*.zip", "[unclosed"})
	require.Error(t, err)
	var pe *PatternError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "[unclosed", pe.Pattern)
}

func TestErrorUnwrap(t *testing.T) {
	err := fmt.Errorf("cleanup: %w", &Error{Op: "remove", Path: "/home/u/x.zip", Err: ErrNotFound})

	assert.True(t, IsNotFound(err))
	assert.False(t, IsAuth(err))
	assert.Contains(t, err.Error(), "transport remove /home/u/x.zip")
}

func TestJoin(t *testing.T) {
	assert.Equal(t, "/home/u/REMOTE_a_b/x.zip", Join("/home/u", "REMOTE_a_b", "x.zip"))
}
