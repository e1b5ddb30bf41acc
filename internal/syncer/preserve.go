package syncer

import (
	"path"
	"strings"
)

// SystemPreservePatterns is the fixed list of paths publishing must never
// touch: operator configuration, TLS material, dependency artefacts, user
// data, caches, logs, embedded databases, sessions, backups, OS junk and
// VCS metadata.
var SystemPreservePatterns = []string{
	// environment / server config
	".env", ".env.*", ".user.ini", ".htaccess", "web.config", "php.ini", "php-fpm.conf",
	".deploy-center",
	// ACME / TLS
	".well-known/**", "ssl/**", "certs/**",
	// dependency artefacts and lock files
	"node_modules", "package-lock.json", "yarn.lock", "pnpm-lock.yaml", "composer.lock",
	// user data
	"uploads/**", "storage/**", "public/uploads/**", "public/storage/**",
	// caches and temp
	"Cache", "cache", "tmp", "temp",
	// logs
	"Logs", "logs", "*.log", "npm-debug.log*",
	// embedded databases
	"*.sqlite", "*.sqlite3", "*.db",
	// sessions
	"sessions",
	// backups
	"backups/**", "*.bak", "*.backup",
	// OS junk
	".DS_Store", "Thumbs.db", "desktop.ini",
	// VCS
	".git", ".svn", ".hg",
}

// Matcher decides whether a relative path belongs to the preserve set.
// Pattern semantics:
//   - "dir/**" matches the directory itself and everything beneath it
//   - "*" within a segment matches any run of non-slash characters
//   - any other pattern matches exactly, or any descendant of the match
type Matcher struct {
	patterns []string
}

// NewMatcher combines the system list with project-specific additions.
func NewMatcher(extra []string) *Matcher {
	patterns := make([]string, 0, len(SystemPreservePatterns)+len(extra))
	patterns = append(patterns, SystemPreservePatterns...)
	for _, p := range extra {
		p = strings.TrimSpace(p)
		if p != "" {
			patterns = append(patterns, p)
		}
	}
	return &Matcher{patterns: patterns}
}

// Patterns returns the combined pattern list (rsync exclude construction).
func (m *Matcher) Patterns() []string {
	return m.patterns
}

// Match reports whether rel (any separator style) is preserved.
func (m *Matcher) Match(rel string) bool {
	rel = normalise(rel)
	if rel == "" || rel == "." {
		return false
	}
	for _, pat := range m.patterns {
		if matchOne(normalise(pat), rel) {
			return true
		}
	}
	return false
}

func normalise(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	return strings.Trim(path.Clean("/"+p), "/")
}

func matchOne(pat, rel string) bool {
	// "dir/**": the directory itself plus all descendants.
	if strings.HasSuffix(pat, "/**") {
		base := strings.TrimSuffix(pat, "/**")
		return segmentsMatch(base, rel) || hasMatchingPrefix(base, rel)
	}

	// Exact (with in-segment wildcards) or any descendant of the match.
	return segmentsMatch(pat, rel) || hasMatchingPrefix(pat, rel)
}

// hasMatchingPrefix reports whether some leading portion of rel matches pat
// segment-for-segment, i.e. rel lies under a directory the pattern names.
func hasMatchingPrefix(pat, rel string) bool {
	patSegs := strings.Split(pat, "/")
	relSegs := strings.Split(rel, "/")
	if len(relSegs) <= len(patSegs) {
		return false
	}
	return segsMatch(patSegs, relSegs[:len(patSegs)])
}

func segmentsMatch(pat, rel string) bool {
	return segsMatch(strings.Split(pat, "/"), strings.Split(rel, "/"))
}

func segsMatch(pat, rel []string) bool {
	if len(pat) != len(rel) {
		return false
	}
	for i := range pat {
		if !segMatch(pat[i], rel[i]) {
			return false
		}
	}
	return true
}

// segMatch matches one segment where * matches any run of non-slash
// characters.
func segMatch(pat, seg string) bool {
	if !strings.Contains(pat, "*") {
		return pat == seg
	}
	parts := strings.Split(pat, "*")
	if !strings.HasPrefix(seg, parts[0]) {
		return false
	}
	seg = seg[len(parts[0]):]
	for i := 1; i < len(parts)-1; i++ {
		idx := strings.Index(seg, parts[i])
		if idx < 0 {
			return false
		}
		seg = seg[idx+len(parts[i]):]
	}
	return strings.HasSuffix(seg, parts[len(parts)-1])
}
