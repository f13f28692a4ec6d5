package feed

import (
	"fmt"
	"net/url"
	"strings"
)

var trackingParams = map[string]bool{
	"fbclid":  true,
	"gclid":   true,
	"mc_cid":  true,
	"mc_eid":  true,
	"ref_src": true,
}

// CanonicalURL normalizes a link into the deduplication key: lower-case
// scheme and host, no default port, no fragment, no tracking parameters,
// sorted query and no trailing slash.
func CanonicalURL(link string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return "", fmt.Errorf("invalid link %q: %w", link, err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported link scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("link %q has no host", link)
	}

	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host = host + ":" + port
	}
	u.Host = host

	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil

	query := u.Query()
	for key := range query {
		if strings.HasPrefix(strings.ToLower(key), "utm_") || trackingParams[strings.ToLower(key)] {
			query.Del(key)
		}
	}
	u.RawQuery = query.Encode()

	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""

	return u.String(), nil
}
