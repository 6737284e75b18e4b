// Utilities for importing a dashboard session from a cURL command.
package shared

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

var (
	headerRegex = regexp.MustCompile(`-H\s+'([^']+)'|-H\s+"([^"]+)"`)
	cookieRegex = regexp.MustCompile(`(?:-b|--cookie)\s+'([^']+)'|(?:-b|--cookie)\s+"([^"]+)"`)
)

// CurlSession is the credential material found in a "Copy as cURL" command from the dashboard.
type CurlSession struct {
	Session     string // Value of the session cookie the refresh endpoint reads
	AccessToken string // Bearer token from the Authorization header, if present
}

// ParseCurlFile reads a .sh file containing a cURL command and extracts the session.
func ParseCurlFile(filepath, cookieName string) (*CurlSession, error) {
	content, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read curl file: %w", err)
	}

	return ParseCurlCommand(content, cookieName)
}

// ParseCurlCommand parses a cURL command and extracts the named session cookie and any bearer token.
func ParseCurlCommand(data []byte, cookieName string) (*CurlSession, error) {
	curlCmd := strings.ReplaceAll(string(data), "\\\n", " ")
	curlCmd = strings.ReplaceAll(curlCmd, "\\", "")

	var cookies []string
	result := &CurlSession{}

	for _, match := range headerRegex.FindAllStringSubmatch(curlCmd, -1) {
		key, value, ok := strings.Cut(firstNonEmpty(match[1], match[2]), ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "cookie":
			cookies = append(cookies, value)
		case "authorization":
			if token, found := strings.CutPrefix(value, "Bearer "); found {
				result.AccessToken = strings.TrimSpace(token)
			}
		}
	}

	for _, match := range cookieRegex.FindAllStringSubmatch(curlCmd, -1) {
		cookies = append(cookies, firstNonEmpty(match[1], match[2]))
	}

	for _, header := range cookies {
		if v, ok := cookieValue(header, cookieName); ok {
			result.Session = v
			break
		}
	}

	if result.Session == "" {
		return nil, fmt.Errorf("%w: cookie %q not found in curl command", ErrNoSession, cookieName)
	}

	return result, nil
}

// cookieValue finds name in a "k=v; k2=v2" cookie header.
func cookieValue(header, name string) (string, bool) {
	for _, part := range strings.Split(header, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if ok && k == name {
			return v, true
		}
	}
	return "", false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
