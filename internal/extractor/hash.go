package extractor

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/crypto/blake2b"

	"siteguard/internal/model"

	"github.com/zeebo/blake3"
)

// ComputeFingerprints derives the fingerprint family (§4.1 step 6) from
// already-extracted content. content_hash uses Blake3 over the raw
// normalized text; the structural and semantic hashes use Blake2b, which
// is cheaper and sufficient once the input has already been reduced to a
// short canonical form.
func ComputeFingerprints(content model.ExtractedContent) model.Fingerprints {
	return model.Fingerprints{
		ContentHash:   blake3Hex(content.NormalizedText),
		StructureHash: blake2bHex(outlineSignature(content.Outline)),
		TextBlockHash: blake2bHex(textBlockSignature(content.TextBlocks)),
		SemanticHash:  blake2bHex(SemanticText(content.NormalizedText)),
	}
}

func blake3Hex(s string) string {
	sum := blake3.Sum256([]byte(s))
	return fmt.Sprintf("%x", sum)
}

func blake2bHex(s string) string {
	sum := blake2b.Sum256([]byte(s))
	return fmt.Sprintf("%x", sum)
}

// outlineSignature builds a stable string representation of the DOM
// outline: one "tag:depth[.class1.class2][#id]" tuple per node, joined in
// document order. Document order (not sorted) is what makes the
// structural-similarity edit distance meaningful — reordering nodes is
// itself a structural change worth detecting.
func outlineSignature(outline []model.DOMNode) string {
	tuples := OutlineSequence(outline)
	return strings.Join(tuples, "|")
}

// textBlockSignature sorts text blocks before hashing so that the hash is
// insensitive to blocks simply moving around the page, matching the
// content_hash's looser tolerance (§4.1 step 6 distinguishes content
// changes from structural reordering, which structure_hash already
// covers).
func textBlockSignature(blocks []string) string {
	sorted := make([]string, len(blocks))
	copy(sorted, blocks)
	sort.Strings(sorted)
	return strings.Join(sorted, "\x00")
}

// OutlineSequence returns the outline tuples ("tag:depth[.classes][#id]")
// in document order, exported for the Change Detector's
// structural-similarity computation (§5), which needs the same sequence
// structure_hash was built from.
func OutlineSequence(outline []model.DOMNode) []string {
	seq := make([]string, len(outline))
	for i, n := range outline {
		var sb strings.Builder
		fmt.Fprintf(&sb, "%s:%d", n.Tag, n.Depth)
		if len(n.Classes) > 0 {
			sb.WriteByte('.')
			sb.WriteString(strings.Join(n.Classes, "."))
		}
		if n.ID != "" {
			sb.WriteByte('#')
			sb.WriteString(n.ID)
		}
		seq[i] = sb.String()
	}
	return seq
}
