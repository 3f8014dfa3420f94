package utils

import (
	"errors"
	"net"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/idna"
)

var errNoHost = errors.New("url has no host")

// NormalizeURL lowercases and punycodes the host, defaults the scheme to
// https and drops credentials and fragments. Only http and https are
// accepted.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(strings.Trim(raw, "<>"))
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.New("unsupported scheme " + parsed.Scheme)
	}
	host := strings.ToLower(parsed.Hostname())
	port := parsed.Port()
	if host == "" {
		return "", errNoHost
	}
	if ascii, err := idna.Lookup.ToASCII(host); err == nil {
		host = ascii
	}
	switch {
	case port != "":
		parsed.Host = net.JoinHostPort(host, port)
	case strings.Contains(host, ":"):
		parsed.Host = "[" + host + "]"
	default:
		parsed.Host = host
	}
	parsed.User = nil
	parsed.Fragment = ""
	return parsed.String(), nil
}

// URLFileName is the last path element of rawURL, or fallback.
func URLFileName(rawURL, fallback string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fallback
	}
	name := path.Base(parsed.Path)
	if name == "." || name == "/" || name == "" {
		return fallback
	}
	return name
}
