package source

import (
	"context"
	"net/url"
	"strings"
)

// robotsRule is one Disallow entry scoped to a user-agent section
type robotsRule struct {
	userAgent string
	path      string
}

// robotsAllowed reports whether rawURL may be scraped under the host's
// robots.txt. The ruleset is fetched once per host and cached.
func (a *URLScrapeAdapter) robotsAllowed(ctx context.Context, rawURL string) (bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false, err
	}

	a.mu.Lock()
	rules, cached := a.robots[u.Host]
	a.mu.Unlock()

	if !cached {
		robotsURL := u.Scheme + "://" + u.Host + "/robots.txt"
		body, err := a.get(ctx, robotsURL)
		if err != nil {
			// Treat an unreachable robots.txt as permissive, but cache the
			// empty ruleset so the host is not re-fetched per page.
			a.mu.Lock()
			a.robots[u.Host] = nil
			a.mu.Unlock()
			return true, err
		}
		rules = parseRobots(string(body))
		a.mu.Lock()
		a.robots[u.Host] = rules
		a.mu.Unlock()
	}

	path := u.Path
	if path == "" {
		path = "/"
	}
	ua := strings.ToLower(a.userAgent)
	for _, rule := range rules {
		if rule.userAgent != "*" && !strings.Contains(ua, rule.userAgent) {
			continue
		}
		if rule.path != "" && strings.HasPrefix(path, rule.path) {
			return false, nil
		}
	}
	return true, nil
}

// parseRobots extracts Disallow rules grouped under their User-agent lines.
// Consecutive User-agent lines share the rules that follow; a User-agent
// line after other directives starts a new group.
func parseRobots(body string) []robotsRule {
	var rules []robotsRule
	var agents []string
	lastWasAgent := false

	for _, line := range strings.Split(body, "\n") {
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		if key == "user-agent" {
			if !lastWasAgent {
				agents = nil
			}
			agents = append(agents, strings.ToLower(value))
			lastWasAgent = true
			continue
		}
		lastWasAgent = false
		if key == "disallow" {
			for _, agent := range agents {
				rules = append(rules, robotsRule{userAgent: agent, path: value})
			}
		}
	}
	return rules
}
