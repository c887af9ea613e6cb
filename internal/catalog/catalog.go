// ABOUTME: Read-only catalog of sellable services, packages and prices
// ABOUTME: Loaded from a TOML file and used to validate selection events

package catalog

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// Package is a single sellable quantity with its price label.
type Package struct {
	Qty   string `toml:"qty"`
	Price string `toml:"price"`
}

// Group is an ordered list of packages under one label, e.g.
// "TikTok Followers".
type Group struct {
	Label string `toml:"label"`
	// Target selects the prompt shown when asking for the delivery
	// target: "username" or "link". Empty falls back to keyword
	// detection on the label.
	Target   string    `toml:"target"`
	Packages []Package `toml:"package"`
}

// Service is a platform (or the free-form promotion pseudo-service)
// with its package groups.
type Service struct {
	Name string `toml:"name"`
	// Freeform marks the promotion service: instead of a link/handle
	// the user supplies the promotional content itself.
	Freeform bool    `toml:"freeform"`
	Groups   []Group `toml:"group"`
}

// Catalog is the full read-only catalog. The gateway treats it as
// configuration; there is no runtime mutation.
type Catalog struct {
	Services []Service `toml:"service"`
}

// Load reads a catalog from a TOML file.
func Load(path string) (*Catalog, error) {
	var c Catalog
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return nil, fmt.Errorf("decoding catalog: %w", err)
	}
	if len(c.Services) == 0 {
		return nil, fmt.Errorf("catalog has no services")
	}
	for _, svc := range c.Services {
		if svc.Name == "" {
			return nil, fmt.Errorf("catalog service with empty name")
		}
		if len(svc.Groups) == 0 {
			return nil, fmt.Errorf("service %q has no groups", svc.Name)
		}
	}
	return &c, nil
}

// Service returns the named service.
func (c *Catalog) Service(name string) (*Service, bool) {
	for i := range c.Services {
		if c.Services[i].Name == name {
			return &c.Services[i], true
		}
	}
	return nil, false
}

// Group returns a group by service name and index. Button payloads
// carry indexes, so out-of-range indexes are expected from stale
// keyboards and simply report not-found.
func (c *Catalog) Group(service string, gi int) (*Service, *Group, bool) {
	svc, ok := c.Service(service)
	if !ok || gi < 0 || gi >= len(svc.Groups) {
		return nil, nil, false
	}
	return svc, &svc.Groups[gi], true
}

// Package returns a package by service name and group/package indexes.
func (c *Catalog) Package(service string, gi, pi int) (*Service, *Group, *Package, bool) {
	svc, grp, ok := c.Group(service, gi)
	if !ok || pi < 0 || pi >= len(grp.Packages) {
		return nil, nil, nil, false
	}
	return svc, grp, &grp.Packages[pi], true
}

// MatchKind says what a free-text catalog match resolved to.
type MatchKind int

const (
	// MatchService: the text named a service; show its groups.
	MatchService MatchKind = iota
	// MatchGroup: the text named (or prefixed) a group; show packages.
	MatchGroup
)

// Match resolves free text against the catalog for the implicit
// drill-down shortcut: an exact service name, or an exact or prefix
// match on a group label.
func (c *Catalog) Match(text string) (kind MatchKind, service string, gi int, ok bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, "", 0, false
	}

	if svc, found := c.Service(text); found {
		return MatchService, svc.Name, 0, true
	}

	lower := strings.ToLower(text)
	for i := range c.Services {
		svc := &c.Services[i]
		for g := range svc.Groups {
			label := strings.ToLower(svc.Groups[g].Label)
			if lower == label || strings.HasPrefix(lower, label) {
				return MatchGroup, svc.Name, g, true
			}
		}
	}
	return 0, "", 0, false
}

// usernameKeywords mark groups whose delivery target is an account
// handle rather than a post link.
var usernameKeywords = []string{"follower", "subscriber", "member"}

// ExpectsUsername reports whether the group's target is an account
// handle (vs. a post/video link).
func (g *Group) ExpectsUsername() bool {
	switch g.Target {
	case "username":
		return true
	case "link":
		return false
	}
	lower := strings.ToLower(g.Label)
	for _, kw := range usernameKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
