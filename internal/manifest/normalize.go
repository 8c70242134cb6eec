package manifest

import (
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/jmgilman/go/errors"

	"github.com/skiff-browser/exthost/internal/resources"
	"github.com/skiff-browser/exthost/internal/shared/types"
)

// normalize validates the raw document and collapses both generations
// into the shared manifest shape.
func (p *Parser) normalize(dir string, doc map[string]interface{}) (*types.ExtensionManifest, error) {
	gen, err := generation(doc)
	if err != nil {
		return nil, err
	}

	name, err := requiredString(doc, "name")
	if err != nil {
		return nil, err
	}
	version, err := requiredString(doc, "version")
	if err != nil {
		return nil, err
	}
	description, err := optionalString(doc, "description")
	if err != nil {
		return nil, err
	}

	m := &types.ExtensionManifest{
		Generation:  gen,
		Name:        name,
		Version:     version,
		Description: description,
	}

	if m.Icons, err = p.icons(dir, doc["icons"], "icons"); err != nil {
		return nil, err
	}
	if m.Action, err = p.action(dir, doc, gen); err != nil {
		return nil, err
	}
	if m.Background, err = p.background(dir, doc, gen); err != nil {
		return nil, err
	}
	if m.ContentScripts, err = p.contentScripts(dir, doc["content_scripts"]); err != nil {
		return nil, err
	}
	if m.Permissions, err = p.stringList(doc["permissions"], "permissions"); err != nil {
		return nil, err
	}

	m.Capabilities = types.Capabilities{
		Popup:          m.Action != nil && m.Action.Popup != "",
		ContentScripts: len(m.ContentScripts) > 0,
		Background:     m.Background != nil,
	}
	return m, nil
}

// generation extracts manifest_version. Anything other than exactly 2 or
// 3 is fatal; there is no default generation.
func generation(doc map[string]interface{}) (types.Generation, error) {
	v, ok := doc["manifest_version"]
	if !ok {
		return 0, invalid("manifest_version", "required field missing")
	}
	num, ok := v.(float64)
	if !ok {
		return 0, invalid("manifest_version", "must be a number")
	}
	if num != math.Trunc(num) {
		return 0, invalid("manifest_version", "must be an integer")
	}
	gen := types.Generation(int(num))
	if !gen.Valid() {
		return 0, errors.WithContext(
			invalid("manifest_version", "unsupported manifest generation"),
			"value", int(num))
	}
	return gen, nil
}

// action normalizes the popup declaration. Generation 3 reads "action";
// generation 2 reads "browser_action", falling back to "page_action".
func (p *Parser) action(dir string, doc map[string]interface{}, gen types.Generation) (*types.Action, error) {
	var raw interface{}
	var field string
	if gen == types.Generation3 {
		raw, field = doc["action"], "action"
	} else if v, ok := doc["browser_action"]; ok {
		raw, field = v, "browser_action"
	} else {
		raw, field = doc["page_action"], "page_action"
	}
	if raw == nil {
		return nil, nil
	}
	obj, ok := raw.(map[string]interface{})
	if !ok {
		return nil, invalid(field, "must be an object")
	}

	a := &types.Action{}
	popup, err := optionalStringIn(obj, "default_popup", field)
	if err != nil {
		return nil, err
	}
	if popup != "" {
		if err := p.packagedFile(dir, popup, field+".default_popup"); err != nil {
			return nil, err
		}
		a.Popup = popup
	}
	if a.Title, err = optionalStringIn(obj, "default_title", field); err != nil {
		return nil, err
	}

	switch ic := obj["default_icon"].(type) {
	case nil:
	case string:
		if ic != "" {
			if err := p.packagedFile(dir, ic, field+".default_icon"); err != nil {
				return nil, err
			}
			// Unsized single icon keys as 0.
			a.Icons = map[int]string{0: ic}
		}
	case map[string]interface{}:
		if a.Icons, err = p.icons(dir, ic, field+".default_icon"); err != nil {
			return nil, err
		}
	default:
		return nil, invalid(field+".default_icon", "must be a path or a size map")
	}
	return a, nil
}

// background normalizes background logic. Generation 3 requires a
// service worker; generation 2 takes scripts or a page, not both.
func (p *Parser) background(dir string, doc map[string]interface{}, gen types.Generation) (*types.Background, error) {
	raw, ok := doc["background"]
	if !ok {
		return nil, nil
	}
	obj, ok := raw.(map[string]interface{})
	if !ok {
		return nil, invalid("background", "must be an object")
	}

	if gen == types.Generation3 {
		sw, err := requiredStringIn(obj, "service_worker", "background")
		if err != nil {
			return nil, err
		}
		if err := p.packagedFile(dir, sw, "background.service_worker"); err != nil {
			return nil, err
		}
		return &types.Background{ServiceWorker: sw}, nil
	}

	_, hasScripts := obj["scripts"]
	_, hasPage := obj["page"]
	switch {
	case hasScripts && hasPage:
		return nil, invalid("background", "declare either scripts or page, not both")
	case hasPage:
		page, err := requiredStringIn(obj, "page", "background")
		if err != nil {
			return nil, err
		}
		if err := p.packagedFile(dir, page, "background.page"); err != nil {
			return nil, err
		}
		return &types.Background{Page: page}, nil
	case hasScripts:
		scripts, err := p.stringList(obj["scripts"], "background.scripts")
		if err != nil {
			return nil, err
		}
		for i, s := range scripts {
			if err := p.packagedFile(dir, s, fmt.Sprintf("background.scripts[%d]", i)); err != nil {
				return nil, err
			}
		}
		return &types.Background{Scripts: scripts}, nil
	default:
		return nil, invalid("background", "must declare scripts or page")
	}
}

// contentScripts normalizes and validates content script groups.
func (p *Parser) contentScripts(dir string, raw interface{}) ([]types.ContentScript, error) {
	if raw == nil {
		return nil, nil
	}
	arr, ok := raw.([]interface{})
	if !ok {
		return nil, invalid("content_scripts", "must be an array")
	}

	out := make([]types.ContentScript, 0, len(arr))
	for i, item := range arr {
		field := fmt.Sprintf("content_scripts[%d]", i)
		obj, ok := item.(map[string]interface{})
		if !ok {
			return nil, invalid(field, "must be an object")
		}

		matches, err := p.stringList(obj["matches"], field+".matches")
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			return nil, invalid(field+".matches", "must declare at least one match pattern")
		}
		for j, pattern := range matches {
			if err := ValidatePattern(pattern); err != nil {
				return nil, invalid(fmt.Sprintf("%s.matches[%d]", field, j),
					fmt.Sprintf("malformed match pattern: %v", err))
			}
		}

		cs := types.ContentScript{Matches: matches}
		if cs.JS, err = p.stringList(obj["js"], field+".js"); err != nil {
			return nil, err
		}
		for j, s := range cs.JS {
			if err := p.packagedFile(dir, s, fmt.Sprintf("%s.js[%d]", field, j)); err != nil {
				return nil, err
			}
		}
		if cs.CSS, err = p.stringList(obj["css"], field+".css"); err != nil {
			return nil, err
		}
		for j, s := range cs.CSS {
			if err := p.packagedFile(dir, s, fmt.Sprintf("%s.css[%d]", field, j)); err != nil {
				return nil, err
			}
		}
		if len(cs.JS) == 0 && len(cs.CSS) == 0 {
			return nil, invalid(field, "must declare js or css files")
		}

		runAt, err := optionalStringIn(obj, "run_at", field)
		if err != nil {
			return nil, err
		}
		switch runAt {
		case "", "document_start", "document_end", "document_idle":
			cs.RunAt = runAt
		default:
			return nil, invalid(field+".run_at", "must be document_start, document_end or document_idle")
		}

		out = append(out, cs)
	}
	return out, nil
}

// icons parses a size map and verifies every path is packaged.
func (p *Parser) icons(dir string, raw interface{}, field string) (map[int]string, error) {
	if raw == nil {
		return nil, nil
	}
	obj, ok := raw.(map[string]interface{})
	if !ok {
		return nil, invalid(field, "must be an object")
	}
	out := make(map[int]string, len(obj))
	for k, v := range obj {
		size, err := strconv.Atoi(k)
		if err != nil || size <= 0 {
			return nil, invalid(field+"."+k, "size key must be a positive integer")
		}
		rel, ok := v.(string)
		if !ok || rel == "" {
			return nil, invalid(field+"."+k, "must be a non-empty path")
		}
		if err := p.packagedFile(dir, rel, field+"."+k); err != nil {
			return nil, err
		}
		out[size] = rel
	}
	return out, nil
}

// packagedFile verifies rel resolves under the package root and exists.
func (p *Parser) packagedFile(dir, rel, field string) error {
	full, err := resources.SafeJoin(dir, rel)
	if err != nil {
		return invalid(field, "path does not resolve under package root")
	}
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		return invalid(field, "path does not exist in package")
	}
	return nil
}

func (p *Parser) stringList(raw interface{}, field string) ([]string, error) {
	if raw == nil {
		return nil, nil
	}
	arr, ok := raw.([]interface{})
	if !ok {
		return nil, invalid(field, "must be an array")
	}
	out := make([]string, 0, len(arr))
	for i, item := range arr {
		s, ok := item.(string)
		if !ok || s == "" {
			return nil, invalid(fmt.Sprintf("%s[%d]", field, i), "must be a non-empty string")
		}
		out = append(out, s)
	}
	return out, nil
}

func requiredString(doc map[string]interface{}, key string) (string, error) {
	v, ok := doc[key]
	if !ok {
		return "", invalid(key, "required field missing")
	}
	s, ok := v.(string)
	if !ok {
		return "", invalid(key, "must be a string")
	}
	if s == "" {
		return "", invalid(key, "must not be empty")
	}
	return s, nil
}

func optionalString(doc map[string]interface{}, key string) (string, error) {
	v, ok := doc[key]
	if !ok {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", invalid(key, "must be a string")
	}
	return s, nil
}

func requiredStringIn(obj map[string]interface{}, key, parent string) (string, error) {
	v, ok := obj[key]
	if !ok {
		return "", invalid(parent+"."+key, "required field missing")
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", invalid(parent+"."+key, "must be a non-empty string")
	}
	return s, nil
}

func optionalStringIn(obj map[string]interface{}, key, parent string) (string, error) {
	v, ok := obj[key]
	if !ok {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", invalid(parent+"."+key, "must be a string")
	}
	return s, nil
}
