package chunker

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/c360studio/docdelta/source"
)

// imageRefRe matches markdown image references: ![alt](src).
var imageRefRe = regexp.MustCompile(`!\[([^\]]*)\]\(([^)\s]+)[^)]*\)`)

// extractImages replaces inline image references with stable
// placeholder tokens and stores data-URI images as side artifacts.
// Extraction failures are logged and the reference is dropped without a
// placeholder; chunk processing always continues.
func (c *Chunker) extractImages(documentID, body string) (string, []source.ImageRef) {
	var refs []source.ImageRef
	n := 0

	result := imageRefRe.ReplaceAllStringFunc(body, func(match string) string {
		groups := imageRefRe.FindStringSubmatch(match)
		src := groups[2]
		placeholder := fmt.Sprintf("[[image:%d]]", n)

		ref := source.ImageRef{
			Placeholder: placeholder,
			Source:      truncateSource(src),
		}

		if strings.HasPrefix(src, "data:") {
			if c.images == nil {
				c.logger.Warn("Inline image dropped, no artifact store configured",
					"document_id", documentID)
				return ""
			}
			path, err := c.images.SaveDataURI(documentID, fmt.Sprintf("inline-%d", n), src)
			if err != nil {
				c.logger.Warn("Failed to extract inline image",
					"document_id", documentID,
					"image", n,
					"error", err)
				return ""
			}
			ref.ArtifactPath = path
		}

		refs = append(refs, ref)
		n++
		return placeholder
	})

	return result, refs
}

// truncateSource keeps image sources loggable; data URIs can be megabytes.
func truncateSource(src string) string {
	const max = 120
	if len(src) > max {
		return src[:max] + "..."
	}
	return src
}
