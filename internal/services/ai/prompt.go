package ai

import (
	"fmt"
	"strings"
)

// classificationPrompt is the system message for word classification. The
// taxonomy version is pinned in the prompt so evaluation runs stay
// comparable when the tree changes.
func classificationPrompt(taxonomyVersion string) string {
	var b strings.Builder
	b.WriteString("You classify words from regional Portuguese corpora against a semantic taxonomy.\n")
	b.WriteString("Taxonomy version: ")
	if taxonomyVersion == "" {
		taxonomyVersion = "v1"
	}
	b.WriteString(taxonomyVersion)
	b.WriteString("\n\n")
	b.WriteString("Rules:\n")
	b.WriteString("- Answer with a single JSON object and nothing else.\n")
	b.WriteString("- Fields: n1 (required), n2, n3, n4, confidence (0.0-1.0), rationale.\n")
	b.WriteString("- Codes are short uppercase segments; leave a level empty rather than guessing.\n")
	b.WriteString("- Confidence reflects how certain you are about the deepest level you filled.\n")
	b.WriteString("- If the word cannot be classified at all, use n1 \"NC\" with confidence 0.\n")
	return b.String()
}

// buildUserPrompt renders the per-word request, including sentence context
// when available and the known N1 for refinement requests.
func buildUserPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Word: %s\n", strings.TrimSpace(req.Word))
	if left := strings.TrimSpace(req.LeftContext); left != "" {
		fmt.Fprintf(&b, "Context before: %s\n", left)
	}
	if right := strings.TrimSpace(req.RightContext); right != "" {
		fmt.Fprintf(&b, "Context after: %s\n", right)
	}
	if !req.KnownN1.IsZero() && !req.KnownN1.IsNC() {
		fmt.Fprintf(&b, "The top-level category is already known to be %s. ", req.KnownN1)
		b.WriteString("Return that n1 unchanged and provide the most specific n2 (and deeper levels if clear).\n")
	}
	return b.String()
}
