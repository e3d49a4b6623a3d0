package extract

import (
	"fmt"
	"net/url"
	"strings"
)

// ExpandURL replaces {{name}} placeholders in a URL template with the given
// parameter values. Unresolved placeholders are an error so a typo in a
// settings document fails loudly instead of hitting the API with a literal
// placeholder.
func ExpandURL(template string, params map[string]string) (string, error) {
	expanded := template
	for name, value := range params {
		expanded = strings.ReplaceAll(expanded, "{{"+name+"}}", value)
	}

	if start := strings.Index(expanded, "{{"); start != -1 {
		end := strings.Index(expanded[start:], "}}")
		if end == -1 {
			return "", fmt.Errorf("unterminated placeholder in URL template %q", template)
		}
		placeholder := expanded[start+2 : start+end]
		return "", fmt.Errorf("no value for placeholder %q in URL template", placeholder)
	}

	return expanded, nil
}

// WithQuery appends query parameters to a URL, preserving any already
// present in the template.
func WithQuery(rawURL string, query map[string]string) (string, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse URL: %w", err)
	}

	q := parsedURL.Query()
	for key, value := range query {
		q.Set(key, value)
	}
	parsedURL.RawQuery = q.Encode()

	return parsedURL.String(), nil
}
