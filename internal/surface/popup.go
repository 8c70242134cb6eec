package surface

import (
	"os"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/jmgilman/go/errors"

	"github.com/skiff-browser/exthost/internal/shared/faults"
	"github.com/skiff-browser/exthost/internal/shared/textenc"
)

// popupDocument is what an action popup's HTML contributes to a
// surface: a title and the scripts to run, in document order.
type popupDocument struct {
	Title   string
	Scripts []popupScript
}

// popupScript is one script from the popup document. Exactly one of
// Src (root-relative path) or Inline (script body) is set.
type popupScript struct {
	Src    string
	Inline string
}

// loadPopup reads and parses a popup document from disk. The file may
// be in a legacy encoding; it is decoded to UTF-8 before parsing.
func loadPopup(fullPath, popupRel string) (*popupDocument, error) {
	raw, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, errors.Wrap(err, faults.FilesystemFailure, "failed to read popup document")
	}
	return parsePopup(textenc.DecodeUTF8(raw), popupRel)
}

// parsePopup extracts the title and scripts from popup HTML. Src paths
// are returned relative to the package root, resolved against the
// popup's own directory the way a document base URL would.
func parsePopup(html, popupRel string) (*popupDocument, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeExecutionFailed, "failed to parse popup document")
	}

	out := &popupDocument{
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
	}
	doc.Find("script").Each(func(i int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok && src != "" {
			if rel, usable := resolveScriptSrc(popupRel, src); usable {
				out.Scripts = append(out.Scripts, popupScript{Src: rel})
			}
			return
		}
		if body := strings.TrimSpace(s.Text()); body != "" {
			out.Scripts = append(out.Scripts, popupScript{Inline: body})
		}
	})
	return out, nil
}

// resolveScriptSrc turns a script src attribute into a package-root
// relative path. Remote and data URLs are not loadable in a surface and
// are skipped.
func resolveScriptSrc(popupRel, src string) (string, bool) {
	lower := strings.ToLower(src)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") ||
		strings.HasPrefix(lower, "//") || strings.HasPrefix(lower, "data:") {
		return "", false
	}
	if strings.HasPrefix(src, "/") {
		return strings.TrimPrefix(src, "/"), true
	}
	return path.Join(path.Dir(popupRel), src), true
}
