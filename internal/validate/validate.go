package validate

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
)

// NameRe matches a tool name segment: a lowercase letter followed by up to
// 99 lowercase letters, digits, hyphens, or underscores.
var NameRe = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,99}$`)

// NamespaceRe matches a namespace segment. Namespaces are at least two
// characters long and at most fifty.
var NamespaceRe = regexp.MustCompile(`^[a-z][a-z0-9_-]{1,49}$`)

const (
	// MaxNameLen is the maximum length of a tool name.
	MaxNameLen = 100
	// MinNamespaceLen and MaxNamespaceLen bound namespace length.
	MinNamespaceLen = 2
	MaxNamespaceLen = 50
)

// Name reports whether s is a valid tool name.
func Name(s string) bool {
	return NameRe.MatchString(s)
}

// Namespace reports whether s is a valid namespace.
func Namespace(s string) bool {
	return NamespaceRe.MatchString(s)
}

// HTTPURL ensures the URL uses http or https scheme and has a non-empty host
// to prevent SSRF via file://, ftp://, or other dangerous schemes.
func HTTPURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
		// OK
	case "":
		return fmt.Errorf("URL missing scheme: %s", rawURL)
	default:
		return fmt.Errorf("URL scheme %q not allowed (only http/https)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL missing host: %s", rawURL)
	}
	return nil
}

// RejectPrivateURL checks whether the URL's host is a private or internal
// IP address (loopback, link-local, RFC-1918, or "localhost").
//
// It only inspects literal IP addresses and the "localhost" hostname.
// DNS-resolved addresses are not checked here.
func RejectPrivateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		return nil // Let HTTPURL handle empty host
	}
	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("URL host %q is a private/internal address", host)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return fmt.Errorf("URL host %q is a private/internal address", host)
	}
	return nil
}
