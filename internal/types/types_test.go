package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitInstructors(t *testing.T) {
	t.Parallel()

	cases := map[string][]string{
		"Sam, Alex":          {"Sam", "Alex"},
		"Sam and Alex":       {"Sam", "Alex"},
		"Sam And Alex":       {"Sam", "Alex"},
		"Sam AND Alex & Jo":  {"Sam", "Alex", "Jo"},
		"Sam / Alex; ; Jo":   {"Sam", "Alex", "Jo"},
		"Alexander Anderson": {"Alexander Anderson"},
	}
	for in, want := range cases {
		require.Equal(t, want, SplitInstructors(in), in)
	}
	require.Nil(t, SplitInstructors("   "))
}
