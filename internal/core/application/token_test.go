package application

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenService(t *testing.T) {
	svc := newTokenService("", "+15550001111")

	t.Run("issue and verify", func(t *testing.T) {
		token, digest, err := svc.issueToken()
		require.NoError(t, err)
		require.Len(t, token, 32)
		require.Len(t, digest, 64)
		require.NotContains(t, digest, token)

		require.True(t, verifyToken(token, digest))
		require.False(t, verifyToken(token+"x", digest))

		other, otherDigest, err := svc.issueToken()
		require.NoError(t, err)
		require.NotEqual(t, token, other)
		require.NotEqual(t, digest, otherDigest)
		require.False(t, verifyToken(other, digest))
	})

	t.Run("link round trips to the claim command", func(t *testing.T) {
		token, _, err := svc.issueToken()
		require.NoError(t, err)

		link := svc.buildLink(token)
		require.True(t, strings.HasPrefix(link, "https://wa.me/15550001111?text=CLAIM%20"))

		parsed, err := url.Parse(link)
		require.NoError(t, err)
		text := parsed.Query().Get("text")
		require.Equal(t, "CLAIM "+token, text)

		got, ok := parseClaimCommand(text)
		require.True(t, ok)
		require.Equal(t, token, got)
	})

	t.Run("custom prefix", func(t *testing.T) {
		custom := newTokenService("https://example.com/chat/", "42")
		require.Equal(
			t, "https://example.com/chat/42?text=CLAIM%20abcdefghijk", custom.buildLink("abcdefghijk"),
		)
	})
}

func TestParseClaimCommand(t *testing.T) {
	testCases := []struct {
		text  string
		token string
		ok    bool
	}{
		{"CLAIM abcdefghij", "abcdefghij", true},
		{"claim  Abc-def_123XYZ ", "Abc-def_123XYZ", true},
		{"  Claim abcdefghijklmnop", "abcdefghijklmnop", true},
		{"CLAIM short", "", false},
		{"CLAIM abc def ghi jkl", "", false},
		{"CLAIMabcdefghij", "", false},
		{"please CLAIM abcdefghij", "", false},
		{"CLAIM abcdefghij!", "", false},
	}

	for _, tc := range testCases {
		t.Run(tc.text, func(t *testing.T) {
			token, ok := parseClaimCommand(tc.text)
			require.Equal(t, tc.ok, ok)
			require.Equal(t, tc.token, token)
		})
	}
}
