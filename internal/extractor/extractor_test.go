package extractor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const samplePage = `<!DOCTYPE html>
<html>
<head>
<title>Welcome to Acme</title>
<meta name="description" content="Acme builds things">
<script>trackUser();</script>
</head>
<body>
<nav><a href="/about">About</a></nav>
<h1 class="hero">Acme Corp</h1>
<p>We build quality widgets for everyone.</p>
<a href="/about">Learn more</a>
<form action="/login" method="post">
<input name="username" type="text">
<input name="password" type="password">
</form>
<a href="https://external.example/partner">Partner</a>
</body>
</html>`

func TestExtractBasicFields(t *testing.T) {
	content, fp := Extract(samplePage, DefaultConfig())

	require.Equal(t, "Welcome to Acme", content.Title)
	require.Equal(t, "Acme builds things", content.MetaDescription)
	require.False(t, content.Truncated)
	require.NotEmpty(t, fp.ContentHash)
	require.NotEmpty(t, fp.StructureHash)
}

func TestExtractIgnoresScriptContent(t *testing.T) {
	content, _ := Extract(samplePage, DefaultConfig())
	for _, b := range content.TextBlocks {
		require.NotContains(t, b, "trackUser")
	}
}

func TestExtractCapturesLinksAndInternality(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SiteHost = "acme.example"
	content, _ := Extract(samplePage, cfg)

	var sawInternal, sawExternal bool
	for _, l := range content.Links {
		if l.Href == "/about" {
			sawInternal = l.Internal
		}
		if strings.Contains(l.Href, "external.example") {
			sawExternal = !l.Internal
		}
	}
	require.True(t, sawInternal)
	require.True(t, sawExternal)
}

func TestExtractCapturesForm(t *testing.T) {
	content, _ := Extract(samplePage, DefaultConfig())
	require.Len(t, content.Forms, 1)
	require.Equal(t, "/login", content.Forms[0].Action)
	require.Equal(t, "POST", content.Forms[0].Method)
	require.Len(t, content.Forms[0].Fields, 2)
}

func TestExtractOversizeContentTruncates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OversizeCap = 100
	content, _ := Extract(samplePage, cfg)
	require.True(t, content.Truncated)
}

func TestExtractMalformedHTMLNeverPanics(t *testing.T) {
	require.NotPanics(t, func() {
		Extract("<html><body><div><p>unclosed", DefaultConfig())
	})
}

func TestExtractSameContentSameFingerprints(t *testing.T) {
	_, fp1 := Extract(samplePage, DefaultConfig())
	_, fp2 := Extract(samplePage, DefaultConfig())
	require.True(t, fp1.Equal(fp2))
}

func TestExtractDifferentContentDifferentHash(t *testing.T) {
	_, fp1 := Extract(samplePage, DefaultConfig())
	altered := strings.Replace(samplePage, "Acme Corp", "Hacked By Someone", 1)
	_, fp2 := Extract(altered, DefaultConfig())
	require.NotEqual(t, fp1.ContentHash, fp2.ContentHash)
}
