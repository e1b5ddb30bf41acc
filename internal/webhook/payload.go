package webhook

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// PushEvent is the normalised shape of a source-control push webhook. The
// controller only cares about these fields regardless of provider dialect.
type PushEvent struct {
	Branch        string
	CommitHash    string
	CommitMessage string
	AuthorName    string
	AuthorEmail   string
	RepoName      string
	RepoURL       string
	Previous      string

	// ChangedFiles is the de-duplicated union of added, modified and removed
	// paths across all commits in the push. AddedOrModified is the subset the
	// DeployOnPaths filter matches against.
	ChangedFiles    []string
	AddedOrModified []string
}

type rawCommit struct {
	ID       string   `json:"id"`
	Message  string   `json:"message"`
	Added    []string `json:"added"`
	Modified []string `json:"modified"`
	Removed  []string `json:"removed"`
	Author   struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"author"`
}

type rawPush struct {
	Ref        string `json:"ref"`
	Before     string `json:"before"`
	After      string `json:"after"`
	Repository struct {
		Name     string `json:"name"`
		FullName string `json:"full_name"`
		CloneURL string `json:"clone_url"`
		SSHURL   string `json:"ssh_url"`
		HTMLURL  string `json:"html_url"`
	} `json:"repository"`
	HeadCommit *rawCommit  `json:"head_commit"`
	Commits    []rawCommit `json:"commits"`
	Pusher     struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"pusher"`
}

// ParsePush normalises a raw push webhook body.
func ParsePush(body []byte) (*PushEvent, error) {
	var raw rawPush
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("webhook: malformed push payload: %w", err)
	}

	ev := &PushEvent{
		Branch:     branchFromRef(raw.Ref),
		CommitHash: raw.After,
		Previous:   raw.Before,
		RepoName:   raw.Repository.Name,
	}

	ev.RepoURL = raw.Repository.CloneURL
	if ev.RepoURL == "" {
		ev.RepoURL = raw.Repository.SSHURL
	}
	if ev.RepoURL == "" {
		ev.RepoURL = raw.Repository.HTMLURL
	}

	head := raw.HeadCommit
	if head == nil && len(raw.Commits) > 0 {
		head = &raw.Commits[len(raw.Commits)-1]
	}
	if head != nil {
		if ev.CommitHash == "" {
			ev.CommitHash = head.ID
		}
		ev.CommitMessage = head.Message
		ev.AuthorName = head.Author.Name
		ev.AuthorEmail = head.Author.Email
	}
	if ev.AuthorName == "" {
		ev.AuthorName = raw.Pusher.Name
	}

	changed := make(map[string]struct{})
	addedOrModified := make(map[string]struct{})
	collect := func(c *rawCommit) {
		for _, f := range c.Added {
			changed[f] = struct{}{}
			addedOrModified[f] = struct{}{}
		}
		for _, f := range c.Modified {
			changed[f] = struct{}{}
			addedOrModified[f] = struct{}{}
		}
		for _, f := range c.Removed {
			changed[f] = struct{}{}
		}
	}
	for i := range raw.Commits {
		collect(&raw.Commits[i])
	}
	if head != nil && len(raw.Commits) == 0 {
		collect(head)
	}

	ev.ChangedFiles = sortedKeys(changed)
	ev.AddedOrModified = sortedKeys(addedOrModified)

	return ev, nil
}

// branchFromRef extracts "main" from "refs/heads/main". Tags and other refs
// pass through untouched so the branch filter rejects them by name.
func branchFromRef(ref string) string {
	return strings.TrimPrefix(ref, "refs/heads/")
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
