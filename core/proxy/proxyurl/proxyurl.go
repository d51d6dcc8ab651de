// Package proxyurl parses proxy URLs into ProxyDescriptor values and knows
// how to format one back, used by the public façade (ParseProxyURL,
// ParseProxyChain) and consumed as Descriptor values by the chain composer.
package proxyurl

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/relaywire/proxytun/internal/proxyerr"
)

// Kind identifies which of the three dialects a descriptor drives.
type Kind int

const (
	KindSocks4 Kind = iota
	KindSocks5
	KindHTTPConnect
)

func (k Kind) String() string {
	switch k {
	case KindSocks4:
		return "socks4"
	case KindSocks5:
		return "socks5"
	case KindHTTPConnect:
		return "http"
	default:
		return "unknown"
	}
}

// Descriptor is the immutable result of parsing a proxy URL (or
// constructing one programmatically).
type Descriptor struct {
	Kind Kind
	Host string // name or IP literal, lowercased if a name
	Port uint16

	HasUserInfo bool
	Username    string
	Password    string // ignored by SOCKS4; see spec.md §3

	RDNS bool // true: proxy resolves the destination name
}

// Parse parses a proxy URL of the form
// {socks4|socks4a|socks5|socks5h|http|https}://[user[:pass]@]host:port
// into a Descriptor. rdnsOverride, when non-nil, overrides the
// scheme-derived rdns default (spec.md §4.1).
func Parse(raw string, rdnsOverride *bool) (Descriptor, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Descriptor{}, fail("%s", err)
	}

	var d Descriptor
	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case "socks4":
		d.Kind = KindSocks4
		d.RDNS = false
	case "socks4a":
		d.Kind = KindSocks4
		d.RDNS = true
	case "socks5":
		d.Kind = KindSocks5
		d.RDNS = false
	case "socks5h":
		d.Kind = KindSocks5
		d.RDNS = true
	case "http", "https":
		d.Kind = KindHTTPConnect
		d.RDNS = true
	default:
		return Descriptor{}, fail("unsupported scheme %q", u.Scheme)
	}

	if rdnsOverride != nil {
		d.RDNS = *rdnsOverride
	}

	host := u.Hostname()
	if host == "" {
		return Descriptor{}, fail("missing host")
	}
	d.Host = strings.ToLower(host)

	portStr := u.Port()
	if portStr == "" {
		return Descriptor{}, fail("missing port")
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return Descriptor{}, fail("invalid port %q", portStr)
	}
	d.Port = uint16(port)

	if u.User != nil {
		d.HasUserInfo = true
		d.Username = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			d.Password = pw
		}
	}

	return d, nil
}

// ParseChain parses an ordered list of proxy URLs into descriptors.
func ParseChain(urls []string) ([]Descriptor, error) {
	if len(urls) == 0 {
		return nil, fail("empty proxy chain")
	}
	out := make([]Descriptor, 0, len(urls))
	for _, u := range urls {
		d, err := Parse(u, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// String formats d back into a canonical proxy URL. Scheme is chosen from
// Kind and RDNS; credentials are percent-encoded via net/url.
func (d Descriptor) String() string {
	var scheme string
	switch d.Kind {
	case KindSocks4:
		if d.RDNS {
			scheme = "socks4a"
		} else {
			scheme = "socks4"
		}
	case KindSocks5:
		if d.RDNS {
			scheme = "socks5h"
		} else {
			scheme = "socks5"
		}
	default:
		scheme = "http"
	}

	u := &url.URL{Scheme: scheme, Host: fmt.Sprintf("%s:%d", d.Host, d.Port)}
	if d.HasUserInfo {
		if d.Password != "" {
			u.User = url.UserPassword(d.Username, d.Password)
		} else {
			u.User = url.User(d.Username)
		}
	}
	return u.String()
}

func fail(format string, args ...any) error {
	return proxyerr.Coded(proxyerr.ErrInvalidURL, 0, fmt.Sprintf(format, args...))
}
