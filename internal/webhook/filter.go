package webhook

import (
	"fmt"
	"strings"

	"github.com/irgordon/deploycenter/internal/core/domain"
)

// Decision is the structured outcome of the should-trigger evaluation.
type Decision struct {
	Trigger bool
	Reason  string
}

// ShouldTrigger decides whether a push event starts an automatic deployment
// for a project: auto-deploy must be on, the branch and repository must
// match, and when a path filter is configured at least one added-or-modified
// file must match it.
func ShouldTrigger(p *domain.Project, ev *PushEvent) Decision {
	if !p.AutoDeploy {
		return Decision{Reason: "auto-deploy is disabled for this project"}
	}

	branch := p.DefaultBranch
	if ev.Branch != branch {
		return Decision{Reason: fmt.Sprintf("branch %q does not match configured branch %q", ev.Branch, branch)}
	}

	if NormalizeRepoURL(ev.RepoURL) != NormalizeRepoURL(p.RepoURL) {
		return Decision{Reason: fmt.Sprintf("repository %q does not match configured repository", ev.RepoURL)}
	}

	if len(p.DeployOnPaths) > 0 {
		if !anyPathMatches(ev.AddedOrModified, p.DeployOnPaths) {
			return Decision{Reason: "no changed file matches the deploy-on-paths filter"}
		}
	}

	return Decision{Trigger: true}
}

// NormalizeRepoURL reduces the many spellings of a repository location to a
// comparable "host/path" form: lower-cased, .git suffix stripped, SSH syntax
// rewritten, protocol and trailing slash removed.
func NormalizeRepoURL(raw string) string {
	u := strings.ToLower(strings.TrimSpace(raw))
	u = strings.TrimSuffix(u, "/")
	u = strings.TrimSuffix(u, ".git")

	// git@host:owner/repo -> host/owner/repo
	if strings.HasPrefix(u, "git@") {
		u = strings.TrimPrefix(u, "git@")
		u = strings.Replace(u, ":", "/", 1)
		return u
	}

	for _, scheme := range []string{"https://", "http://", "ssh://git@", "ssh://", "git://"} {
		if strings.HasPrefix(u, scheme) {
			u = strings.TrimPrefix(u, scheme)
			break
		}
	}
	return u
}

func anyPathMatches(files []string, globs []string) bool {
	for _, f := range files {
		for _, g := range globs {
			if MatchPathGlob(g, f) {
				return true
			}
		}
	}
	return false
}

// MatchPathGlob matches slash-separated paths against a glob where `*`
// matches exactly one path segment's worth of characters and `**` matches
// any number of segments (including none).
func MatchPathGlob(pattern, path string) bool {
	return matchSegments(splitSegments(pattern), splitSegments(path))
}

func splitSegments(s string) []string {
	s = strings.Trim(strings.ReplaceAll(s, "\\", "/"), "/")
	if s == "" {
		return nil
	}
	return strings.Split(s, "/")
}

func matchSegments(pat, path []string) bool {
	if len(pat) == 0 {
		return len(path) == 0
	}
	if pat[0] == "**" {
		// ** swallows zero or more leading segments.
		for i := 0; i <= len(path); i++ {
			if matchSegments(pat[1:], path[i:]) {
				return true
			}
		}
		return false
	}
	if len(path) == 0 {
		return false
	}
	if !matchSegment(pat[0], path[0]) {
		return false
	}
	return matchSegments(pat[1:], path[1:])
}

// matchSegment matches one segment where * matches any run of characters
// within the segment.
func matchSegment(pat, seg string) bool {
	parts := strings.Split(pat, "*")
	if len(parts) == 1 {
		return pat == seg
	}
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
