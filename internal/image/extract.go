package image

import (
	"encoding/base64"
	"path"
	"strings"
)

// imageRef is either inline image data or a URL to fetch it from.
type imageRef struct {
	data []byte
	url  string
}

type extractor func(any) (imageRef, bool)

var imageExtensions = []string{".png", ".jpg", ".jpeg", ".webp", ".gif"}

// extract tries each output value against the extractor pipeline in order;
// the first match wins.
func (c *spaceConn) extract(output []any) (imageRef, bool) {
	for _, v := range output {
		if ref, ok := c.extractValue(v); ok {
			return ref, true
		}
	}
	return imageRef{}, false
}

func (c *spaceConn) extractValue(v any) (imageRef, bool) {
	for _, ex := range c.pipeline() {
		if ref, ok := ex(v); ok {
			return ref, true
		}
	}
	return imageRef{}, false
}

func (c *spaceConn) pipeline() []extractor {
	return []extractor{
		c.dataURI,
		c.absoluteURL,
		c.fileObject,
		c.relativePath,
		c.gallery,
	}
}

func (c *spaceConn) dataURI(v any) (imageRef, bool) {
	s, ok := v.(string)
	if !ok || !strings.HasPrefix(s, "data:image/") {
		return imageRef{}, false
	}
	_, payload, found := strings.Cut(s, ";base64,")
	if !found {
		return imageRef{}, false
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil || len(data) == 0 {
		return imageRef{}, false
	}
	return imageRef{data: data}, true
}

func (c *spaceConn) absoluteURL(v any) (imageRef, bool) {
	s, ok := v.(string)
	if !ok || !(strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")) {
		return imageRef{}, false
	}
	return imageRef{url: s}, true
}

// fileObject handles Gradio file payloads: {"url": ...} or {"path": ...}.
func (c *spaceConn) fileObject(v any) (imageRef, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return imageRef{}, false
	}
	if u, ok := m["url"].(string); ok && u != "" {
		if ref, ok := c.dataURI(u); ok {
			return ref, true
		}
		if ref, ok := c.absoluteURL(u); ok {
			return ref, true
		}
		// an undecodable inline payload is not a server path
		if !strings.HasPrefix(u, "data:") {
			return imageRef{url: c.originURL(u)}, true
		}
	}
	if p, ok := m["path"].(string); ok && p != "" {
		return imageRef{url: c.fileURL(p)}, true
	}
	if name, ok := m["name"].(string); ok && name != "" && m["is_file"] == true {
		return imageRef{url: c.fileURL(name)}, true
	}
	return imageRef{}, false
}

func (c *spaceConn) relativePath(v any) (imageRef, bool) {
	s, ok := v.(string)
	if !ok || s == "" || strings.ContainsAny(s, " \n") {
		return imageRef{}, false
	}
	switch {
	case strings.HasPrefix(s, "/file="), strings.HasPrefix(s, "file="):
		return imageRef{url: c.originURL(s)}, true
	case isImagePath(s):
		return imageRef{url: c.fileURL(s)}, true
	}
	return imageRef{}, false
}

// gallery descends into arrays ([image, caption] pairs, lists of images) and
// gallery items carrying an "image" field.
func (c *spaceConn) gallery(v any) (imageRef, bool) {
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if ref, ok := c.extractValue(item); ok {
				return ref, true
			}
		}
	case map[string]any:
		if img, ok := t["image"]; ok {
			return c.extractValue(img)
		}
		if value, ok := t["value"]; ok {
			return c.extractValue(value)
		}
	}
	return imageRef{}, false
}

func (c *spaceConn) fileURL(p string) string {
	return c.root + c.prefix + "/file=" + p
}

func (c *spaceConn) originURL(p string) string {
	p = strings.TrimPrefix(p, "/")
	if strings.HasPrefix(p, "file=") && c.prefix != "" {
		return c.root + c.prefix + "/" + p
	}
	return c.root + "/" + p
}

func isImagePath(s string) bool {
	ext := strings.ToLower(path.Ext(s))
	for _, e := range imageExtensions {
		if ext == e {
			return true
		}
	}
	return false
}
