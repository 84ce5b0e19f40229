package extractor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeLowercasesAndCollapsesWhitespace(t *testing.T) {
	out := Normalize("  Hello   World  \n\n Foo ")
	require.Equal(t, "hello world foo", out)
}

func TestNormalizeStripsTimestamps(t *testing.T) {
	out := Normalize("Published at 2024-01-02T15:04:05Z by staff")
	require.NotContains(t, out, "2024-01-02t15:04:05z")
	require.Contains(t, out, "published")
	require.Contains(t, out, "staff")
}

func TestNormalizeStripsSessionTokens(t *testing.T) {
	out := Normalize("session_id: abc123DEF456xyz ok")
	require.NotContains(t, out, "abc123def456xyz")
	require.Contains(t, out, "ok")
}

func TestSemanticTextCollapsesPunctuation(t *testing.T) {
	out := SemanticText("hello, world! foo-bar")
	require.Equal(t, "helloworldfoobar", out)
}

func TestKeywordsDropsStopwordsAndShortTokens(t *testing.T) {
	kws := Keywords("the quick brown fox jumps over a lazy dog")
	_, hasThe := kws["the"]
	_, hasQuick := kws["quick"]
	require.False(t, hasThe)
	require.True(t, hasQuick)
}

func TestKeywordsDedupes(t *testing.T) {
	kws := Keywords("widgets widgets widgets quality")
	require.Len(t, kws, 2)
}
