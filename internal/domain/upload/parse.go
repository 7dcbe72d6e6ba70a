package upload

import (
	"regexp"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/arenabridge/agent/internal/shared/faults"
)

// The upstream does not commit to a response shape for the sign and notify
// calls: the same logical payload has been observed as prefixed action
// lines, a bare JSON document, and a JSON object buried in surrounding
// noise. Parsing walks an ordered strategy list and fails only when every
// strategy is exhausted.

// uploadURLKeys, keyKeys and downloadURLKeys are the accepted field aliases,
// most specific first.
var (
	uploadURLKeys   = []string{"uploadUrl", "signedUrl", "putUrl", "upload_url", "url"}
	keyKeys         = []string{"key", "objectKey", "fileId", "filePath", "fileName"}
	downloadURLKeys = []string{"downloadUrl", "fileUrl", "getUrl", "download_url", "url"}
)

// SignResult is the parsed outcome of a sign call.
type SignResult struct {
	UploadURL string
	Key       string
}

type strategy struct {
	name string
	run  func(body string, hint string) (map[string]interface{}, bool)
}

var strategies = []strategy{
	{"prefixed-lines", parsePrefixedLines},
	{"bare-json", parseBareJSON},
	{"embedded-object", parseEmbeddedObject},
	{"key-regex", parseKeyRegex},
}

// ParseSign extracts the upload destination and object key from a sign
// response body. A strategy that decodes but lacks the needed fields does
// not end the search; the next strategy gets its chance.
func ParseSign(body string) (*SignResult, error) {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return nil, faults.New(faults.ParseFailure, "empty sign response")
	}

	for _, s := range strategies {
		fields, ok := s.run(trimmed, uploadURLKeys[0])
		if !ok {
			continue
		}
		uploadURL, okURL := pick(fields, uploadURLKeys...)
		key, okKey := pick(fields, keyKeys...)
		if okURL && okKey {
			return &SignResult{UploadURL: uploadURL, Key: key}, nil
		}
	}
	return nil, exhausted("sign")
}

// ParseNotify extracts the durable reference URL from a notify response.
func ParseNotify(body string) (string, error) {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return "", faults.New(faults.ParseFailure, "empty notify response")
	}

	for _, s := range strategies {
		fields, ok := s.run(trimmed, downloadURLKeys[0])
		if !ok {
			continue
		}
		if url, found := pick(fields, downloadURLKeys...); found {
			return url, nil
		}
	}
	return "", exhausted("notify")
}

func exhausted(step string) error {
	names := make([]string, len(strategies))
	for i, s := range strategies {
		names[i] = s.name
	}
	return faults.Newf(faults.ParseFailure,
		"%s response unrecognized after strategies %s", step, strings.Join(names, ", "))
}

// parsePrefixedLines handles action-stream bodies: one `tag:{json}` record
// per line. Objects are merged across lines, later lines winning, because
// the data record usually trails the header record.
func parsePrefixedLines(body, _ string) (map[string]interface{}, bool) {
	merged := make(map[string]interface{})
	matched := false

	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		idx := strings.Index(line, ":")
		if idx <= 0 || idx > 8 || !isTag(line[:idx]) {
			continue
		}
		rest := strings.TrimSpace(line[idx+1:])
		if !strings.HasPrefix(rest, "{") {
			continue
		}
		var obj map[string]interface{}
		if err := sonic.UnmarshalString(rest, &obj); err != nil {
			continue
		}
		matched = true
		for k, v := range obj {
			merged[k] = v
		}
	}
	return merged, matched
}

// isTag accepts the short alphanumeric record tags the action stream uses.
func isTag(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') {
			return false
		}
	}
	return true
}

// parseBareJSON handles a body that is one JSON document.
func parseBareJSON(body, _ string) (map[string]interface{}, bool) {
	if !strings.HasPrefix(body, "{") {
		return nil, false
	}
	var obj map[string]interface{}
	if err := sonic.UnmarshalString(body, &obj); err != nil {
		return nil, false
	}
	return obj, true
}

// parseEmbeddedObject finds the first balanced JSON object containing the
// hint key anywhere in the body.
func parseEmbeddedObject(body, hint string) (map[string]interface{}, bool) {
	at := strings.Index(body, `"`+hint+`"`)
	if at < 0 {
		// Any known alias will do as an anchor.
		for _, k := range append(append([]string{}, uploadURLKeys...), downloadURLKeys...) {
			if i := strings.Index(body, `"`+k+`"`); i >= 0 {
				at = i
				break
			}
		}
	}
	if at < 0 {
		return nil, false
	}

	start := strings.LastIndex(body[:at], "{")
	if start < 0 {
		return nil, false
	}

	raw, ok := balancedObject(body[start:])
	if !ok {
		return nil, false
	}

	var obj map[string]interface{}
	if err := sonic.UnmarshalString(raw, &obj); err != nil {
		return nil, false
	}
	return obj, true
}

// balancedObject returns the shortest prefix of s that forms a balanced
// JSON object, honoring strings and escapes.
func balancedObject(s string) (string, bool) {
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[:i+1], true
			}
		}
	}
	return "", false
}

var kvPattern = regexp.MustCompile(`"([A-Za-z_][A-Za-z0-9_]*)"\s*:\s*("(?:[^"\\]|\\.)*")`)

// parseKeyRegex is the last resort: scrape quoted string fields straight out
// of the body, whatever surrounds them.
func parseKeyRegex(body, _ string) (map[string]interface{}, bool) {
	matches := kvPattern.FindAllStringSubmatch(body, -1)
	if len(matches) == 0 {
		return nil, false
	}

	fields := make(map[string]interface{}, len(matches))
	for _, m := range matches {
		var value string
		if err := sonic.UnmarshalString(m[2], &value); err != nil {
			continue
		}
		if _, exists := fields[m[1]]; !exists {
			fields[m[1]] = value
		}
	}
	return fields, len(fields) > 0
}

// pick returns the first alias present as a non-empty string, looking one
// level into a "data" envelope as well.
func pick(fields map[string]interface{}, aliases ...string) (string, bool) {
	for _, alias := range aliases {
		if v, ok := fields[alias].(string); ok && v != "" {
			return v, true
		}
	}
	if inner, ok := fields["data"].(map[string]interface{}); ok {
		for _, alias := range aliases {
			if v, ok := inner[alias].(string); ok && v != "" {
				return v, true
			}
		}
	}
	return "", false
}
