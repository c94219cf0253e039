// Package egress decides how each acquisition attempt leaves the
// process: which network route, which client identity the extraction
// tool impersonates, and whether tenant cookies ride along. Strategies
// are pure values; the ladder they form is computed up front and bounded
// so every job terminates.
package egress

import (
	"fmt"
	"net/url"
)

// RouteDescriptor is one egress network route. The zero value is the
// direct route (no proxy).
type RouteDescriptor struct {
	Scheme   string
	Host     string
	Port     int
	Username string
	Password string
	// SessionTag is appended to the proxy username to pin or rotate the
	// provider-side exit session, for pools that support it.
	SessionTag string
}

// Direct reports whether this is the proxyless route.
func (r RouteDescriptor) Direct() bool {
	return r.Host == ""
}

// WithSessionTag returns a copy of the route with the session tag
// replaced; the descriptor itself is never mutated.
func (r RouteDescriptor) WithSessionTag(tag string) RouteDescriptor {
	r.SessionTag = tag
	return r
}

// ProxyURL renders the route for the tool's --proxy flag, or "" for the
// direct route.
func (r RouteDescriptor) ProxyURL() string {
	if r.Direct() {
		return ""
	}
	u := url.URL{
		Scheme: r.Scheme,
		Host:   fmt.Sprintf("%s:%d", r.Host, r.Port),
	}
	if r.Username != "" {
		username := r.Username
		if r.SessionTag != "" {
			username = username + "-session-" + r.SessionTag
		}
		if r.Password != "" {
			u.User = url.UserPassword(username, r.Password)
		} else {
			u.User = url.User(username)
		}
	}
	return u.String()
}

func (r RouteDescriptor) String() string {
	if r.Direct() {
		return "direct"
	}
	return fmt.Sprintf("%s://%s:%d", r.Scheme, r.Host, r.Port)
}

// ParseRoute parses a scheme://[user[:pass]@]host:port proxy spec into a
// RouteDescriptor.
func ParseRoute(s string) (RouteDescriptor, error) {
	u, err := url.Parse(s)
	if err != nil {
		return RouteDescriptor{}, fmt.Errorf("invalid proxy route %q: %w", s, err)
	}
	if u.Scheme == "" || u.Hostname() == "" {
		return RouteDescriptor{}, fmt.Errorf("invalid proxy route %q: scheme and host required", s)
	}
	port := 1080
	if u.Port() != "" {
		if _, err := fmt.Sscanf(u.Port(), "%d", &port); err != nil {
			return RouteDescriptor{}, fmt.Errorf("invalid proxy route %q: bad port", s)
		}
	}
	r := RouteDescriptor{
		Scheme: u.Scheme,
		Host:   u.Hostname(),
		Port:   port,
	}
	if u.User != nil {
		r.Username = u.User.Username()
		r.Password, _ = u.User.Password()
	}
	return r, nil
}
