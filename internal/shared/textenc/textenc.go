// Package textenc converts bytes of unknown encoding to UTF-8. Remote
// snippet payloads and packaged popup documents can arrive in legacy
// encodings; everything downstream assumes UTF-8.
package textenc

import (
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// Detector names that differ from their WHATWG labels.
var aliases = map[string]string{
	"gb-18030": "gb18030",
}

// DetectCharset names the most likely charset of data, falling back to
// utf-8 when detection is inconclusive.
func DetectCharset(data []byte) string {
	detector := chardet.NewTextDetector()
	result, err := detector.DetectBest(data)
	if err != nil || result == nil {
		return "utf-8"
	}
	return strings.ToLower(result.Charset)
}

// DecodeUTF8 returns data as a UTF-8 string. Valid UTF-8 passes through
// untouched; anything else is decoded from its detected charset, with
// the raw bytes as a last resort.
func DecodeUTF8(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	if decoded, ok := decodeAs(data, DetectCharset(data)); ok {
		return decoded
	}
	return string(data)
}

// DecodeWithHint is DecodeUTF8 with a Content-Type style hint tried
// first, e.g. "text/javascript; charset=windows-1251".
func DecodeWithHint(data []byte, contentType string) string {
	if name := charsetFromContentType(contentType); name != "" {
		if decoded, ok := decodeAs(data, name); ok {
			return decoded
		}
	}
	return DecodeUTF8(data)
}

func charsetFromContentType(ct string) string {
	for _, part := range strings.Split(ct, ";") {
		part = strings.ToLower(strings.TrimSpace(part))
		if rest, ok := strings.CutPrefix(part, "charset="); ok {
			return strings.Trim(rest, `"'`)
		}
	}
	return ""
}

func decodeAs(data []byte, name string) (string, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if alias, ok := aliases[name]; ok {
		name = alias
	}
	enc, err := htmlindex.Get(name)
	if err != nil || enc == nil {
		return "", false
	}
	decoded, _, err := transform.Bytes(enc.NewDecoder(), data)
	if err != nil {
		return "", false
	}
	return string(decoded), true
}
