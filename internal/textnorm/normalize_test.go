package textnorm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCustomerFolding(t *testing.T) {
	t.Parallel()

	require.Equal(t, "zoe o'brien", Customer("  Zoë   O'Brien "))
	require.Equal(t, Customer("JOSÉ García"), Customer("jose garcia"))
	require.Equal(t, "", Customer("   "))
}

func TestCanonical(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"Adult 10 Packs (online)": "adult 10 pack",
		"PAYG – Drop in":          "pay as you go - drop in",
		"2 per week €60":          "2 x week euro 60",
		"Unlimited Plan!":         "unlimited",
	}
	for in, want := range cases {
		require.Equal(t, want, Canonical(in), in)
	}
}

func TestSimilarity(t *testing.T) {
	t.Parallel()

	require.Equal(t, 1.0, Similarity("Anna Smith", "anna  smith"))
	require.Greater(t, Similarity("Anna Smith", "Anna Smyth"), 0.85)
	require.Less(t, Similarity("Anna Smith", "Bob Jones"), 0.5)
	require.Equal(t, 0.0, Similarity("", ""))
	require.Equal(t, 0.0, Similarity("  ", "Anna"))
}

func TestContainsEither(t *testing.T) {
	t.Parallel()

	require.True(t, ContainsEither("Adult 10 Pack", "Invoice - adult 10 pack"))
	require.False(t, ContainsEither("", "anything"))
}

func TestContainsAnyMatchesWholeWords(t *testing.T) {
	t.Parallel()

	keywords := []string{"fee", "tax"}
	require.True(t, ContainsAny("Booking Fee", keywords))
	require.True(t, ContainsAny("VAT tax adj", keywords))
	require.False(t, ContainsAny("Coffee voucher", keywords))
	require.True(t, ContainsAny("Booking Fees", keywords))
	require.True(t, ContainsAny("Late fees (March)", keywords))
	require.True(t, ContainsAny("Taxes", keywords))
	require.True(t, ContainsAny("VAT tax: 23%", keywords))
	require.False(t, ContainsAny("Taxi voucher", keywords))
	require.False(t, ContainsAny("", keywords))
	require.True(t, ContainsAny("Freedom Pass 2025", []string{"freedom pass"}))
}
