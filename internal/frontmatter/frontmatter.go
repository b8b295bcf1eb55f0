// Package frontmatter splits YAML frontmatter from Markdown documents.
package frontmatter

import (
	"bytes"
	"errors"

	"gopkg.in/yaml.v3"
)

// ErrMissingClosingDelimiter indicates the document started with a YAML
// frontmatter delimiter but did not contain a closing delimiter.
var ErrMissingClosingDelimiter = errors.New("frontmatter opening delimiter found but closing delimiter is missing")

// Split separates `---` delimited YAML frontmatter from the Markdown body.
// If the document does not start with a delimiter, had is false and body is
// the full input. Both LF and CRLF documents are handled.
func Split(doc []byte) (meta []byte, body []byte, had bool, err error) {
	nl := detectNewline(doc)

	open := []byte("---" + nl)
	if !bytes.HasPrefix(doc, open) {
		return nil, doc, false, nil
	}
	rest := doc[len(open):]

	// Empty frontmatter: the closing delimiter follows immediately.
	if bytes.HasPrefix(rest, open) {
		return []byte{}, rest[len(open):], true, nil
	}

	closing := []byte(nl + "---" + nl)
	idx := bytes.Index(rest, closing)
	if idx < 0 {
		// Closing delimiter at end of file without trailing newline.
		tail := []byte(nl + "---")
		if bytes.HasSuffix(rest, tail) {
			return rest[:len(rest)-len(tail)+len(nl)], []byte{}, true, nil
		}
		return nil, nil, false, ErrMissingClosingDelimiter
	}

	meta = rest[:idx+len(nl)]
	body = rest[idx+len(closing):]
	return meta, body, true, nil
}

// Decode unmarshals raw frontmatter (without delimiters) into out.
func Decode(meta []byte, out any) error {
	if len(meta) == 0 {
		return nil
	}
	return yaml.Unmarshal(meta, out)
}

// ParseYAML parses raw frontmatter into a generic map. A nil or empty input
// yields an empty map.
func ParseYAML(meta []byte) (map[string]any, error) {
	fields := map[string]any{}
	if len(meta) == 0 {
		return fields, nil
	}
	if err := yaml.Unmarshal(meta, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func detectNewline(doc []byte) string {
	for i := 0; i < len(doc); i++ {
		if doc[i] == '\r' && i+1 < len(doc) && doc[i+1] == '\n' {
			return "\r\n"
		}
		if doc[i] == '\n' {
			return "\n"
		}
	}
	return "\n"
}
