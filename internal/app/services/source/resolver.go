package source

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/PaesslerAG/jsonpath"
	"github.com/tidwall/gjson"
)

var (
	// ErrInvalidResolver covers bad resolver syntax, unresolvable paths and
	// values of the wrong shape.
	ErrInvalidResolver = errors.New("invalid response body resolver")
	// ErrInvalidJSON is returned when the fetched body is not JSON.
	ErrInvalidJSON = errors.New("invalid response body json")
)

var pointerSyntax = regexp.MustCompile(`^[\p{L}\p{N}_/~\-]*$`)

// ValidateResolver checks resolver syntax without a document. A resolver is
// either a JSON pointer ("/data/0/price") or a JSONPath expression ("$.data[0].price").
func ValidateResolver(resolver string) error {
	if strings.HasPrefix(resolver, "$") {
		if _, err := jsonpath.New(resolver); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidResolver, err)
		}
		return nil
	}
	if resolver != "" && !strings.HasPrefix(resolver, "/") {
		return fmt.Errorf("%w: pointer %q must start with '/'", ErrInvalidResolver, resolver)
	}
	if !pointerSyntax.MatchString(resolver) {
		return fmt.Errorf("%w: pointer %q contains unsupported characters", ErrInvalidResolver, resolver)
	}
	return nil
}

// Resolve extracts the value addressed by resolver from a JSON body. Numbers
// come back as float64, strings as string, and containers as maps/slices.
func Resolve(body []byte, resolver string) (interface{}, error) {
	if !gjson.ValidBytes(body) {
		return nil, ErrInvalidJSON
	}

	if strings.HasPrefix(resolver, "$") {
		var doc interface{}
		if err := json.Unmarshal(body, &doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
		}
		v, err := jsonpath.Get(resolver, doc)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidResolver, err)
		}
		return v, nil
	}

	path, err := pointerToPath(resolver)
	if err != nil {
		return nil, err
	}
	res := gjson.GetBytes(body, path)
	if !res.Exists() {
		return nil, fmt.Errorf("%w: %q does not resolve", ErrInvalidResolver, resolver)
	}
	return res.Value(), nil
}

// pointerToPath converts an RFC 6901 pointer into a gjson path.
func pointerToPath(pointer string) (string, error) {
	if pointer == "" {
		return "@this", nil
	}
	if !strings.HasPrefix(pointer, "/") {
		return "", fmt.Errorf("%w: pointer %q must start with '/'", ErrInvalidResolver, pointer)
	}
	tokens := strings.Split(pointer[1:], "/")
	parts := make([]string, len(tokens))
	for i, tok := range tokens {
		if tok == "" {
			return "", fmt.Errorf("%w: pointer %q has an empty segment", ErrInvalidResolver, pointer)
		}
		tok = strings.ReplaceAll(tok, "~1", "/")
		tok = strings.ReplaceAll(tok, "~0", "~")
		parts[i] = escapePathComponent(tok)
	}
	return strings.Join(parts, "."), nil
}

func escapePathComponent(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\', '!', '=', '<', '>', '%', '"':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
