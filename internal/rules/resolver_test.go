package rules

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/class-payment-reconciler/internal/types"
)

func TestClassifySessionType(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]types.SessionType{
		"Private Lesson":     types.SessionPrivate,
		"Boxing 1-1":         types.SessionPrivate,
		"1 to 1 coaching":    types.SessionPrivate,
		"One to One":         types.SessionPrivate,
		"1-to-1 Pads":        types.SessionPrivate,
		"Adult Fundamentals": types.SessionGroup,
		"":                   types.SessionGroup,
		"Kids Technique":     types.SessionGroup,
	} {
		require.Equal(t, want, ClassifySessionType(in), in)
	}
}

func TestResolveOrder(t *testing.T) {
	t.Parallel()

	rules := []types.Rule{
		{ID: "d-group", Name: "Group default", SessionType: types.SessionGroup},
		{ID: "d-private", Name: "Private default", SessionType: types.SessionPrivate},
		{ID: "pack-group", Name: "Adult 10 Pack", PackageName: "Adult 10 Pack", SessionType: types.SessionGroup},
		{ID: "pack-private", Name: "Adult 10 Pack (PT)", PackageName: "Adult 10 Pack", SessionType: types.SessionPrivate},
		{ID: "payg", Name: "Drop in", PackageName: "Drop In", AttendanceAlias: "Pay As You Go", SessionType: types.SessionGroup},
		{ID: "monthly", Name: "Unlimited", PackageName: "Unlimited - Monthly", SessionType: types.SessionGroup},
	}
	r := NewResolver(rules)

	got, ok := r.Resolve("adult 10 PACK", types.SessionGroup)
	require.True(t, ok)
	require.Equal(t, "pack-group", got.ID)

	got, ok = r.Resolve("Adult 10 Pack", types.SessionPrivate)
	require.True(t, ok)
	require.Equal(t, "pack-private", got.ID)

	got, ok = r.Resolve("pay as you go", types.SessionPrivate)
	require.True(t, ok)
	require.Equal(t, "payg", got.ID, "an alias match beats the default even across session types")

	got, ok = r.Resolve("Unlimited – Monthly", types.SessionGroup)
	require.True(t, ok)
	require.Equal(t, "monthly", got.ID)

	got, ok = r.Resolve("Something Else", types.SessionPrivate)
	require.True(t, ok)
	require.Equal(t, "d-private", got.ID)

	byID, ok := r.ByID("payg")
	require.True(t, ok)
	require.Equal(t, "Drop in", byID.Name)
}

func TestResolveWithoutDefault(t *testing.T) {
	t.Parallel()

	r := NewResolver([]types.Rule{{ID: "1", PackageName: "Adult 10 Pack", SessionType: types.SessionGroup}})
	_, ok := r.Resolve("Kids Term", types.SessionGroup)
	require.False(t, ok)
}
