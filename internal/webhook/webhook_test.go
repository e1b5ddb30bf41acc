package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irgordon/deploycenter/internal/core/domain"
)

func TestVerifySignature_RoundTrip(t *testing.T) {
	body := []byte(`{"ref":"refs/heads/main"}`)
	secret := "whsec-123"

	header := Sign(body, secret)
	require.NoError(t, VerifySignature(body, header, secret))
}

func TestVerifySignature_BitFlip(t *testing.T) {
	body := []byte(`{"ref":"refs/heads/main"}`)
	secret := "whsec-123"
	header := Sign(body, secret)

	flipped := append([]byte(nil), body...)
	flipped[0] ^= 0x01
	assert.Error(t, VerifySignature(flipped, header, secret))
}

func TestVerifySignature_Malformed(t *testing.T) {
	body := []byte("x")
	assert.Error(t, VerifySignature(body, "", "s"))
	assert.Error(t, VerifySignature(body, "sha1=abcd", "s"))
	assert.Error(t, VerifySignature(body, "sha256=nothex!", "s"))
	assert.Error(t, VerifySignature(body, "sha256=deadbeef", "wrong"))
}

func TestParsePush_Normalises(t *testing.T) {
	body := []byte(`{
		"ref": "refs/heads/main",
		"before": "aaa111",
		"after": "bbb222",
		"repository": {"name": "site", "clone_url": "https://github.com/acme/site.git"},
		"head_commit": {
			"id": "bbb222",
			"message": "fix header",
			"author": {"name": "Dana", "email": "dana@acme.dev"},
			"added": ["src/new.css"],
			"modified": ["index.html"],
			"removed": ["old.txt"]
		},
		"commits": [
			{"id": "bbb111", "message": "wip", "added": ["src/new.css"], "modified": ["README.md"], "removed": []},
			{"id": "bbb222", "message": "fix header", "modified": ["index.html"], "removed": ["old.txt"]}
		]
	}`)

	ev, err := ParsePush(body)
	require.NoError(t, err)

	assert.Equal(t, "main", ev.Branch)
	assert.Equal(t, "bbb222", ev.CommitHash)
	assert.Equal(t, "aaa111", ev.Previous)
	assert.Equal(t, "fix header", ev.CommitMessage)
	assert.Equal(t, "Dana", ev.AuthorName)
	assert.Equal(t, "site", ev.RepoName)

	// De-duplicated union across commits.
	assert.Equal(t, []string{"README.md", "index.html", "old.txt", "src/new.css"}, ev.ChangedFiles)
	assert.Equal(t, []string{"README.md", "index.html", "src/new.css"}, ev.AddedOrModified)
}

func TestParsePush_Malformed(t *testing.T) {
	_, err := ParsePush([]byte("not json"))
	assert.Error(t, err)
}

func TestNormalizeRepoURL(t *testing.T) {
	cases := map[string]string{
		"https://github.com/Acme/Site.git":  "github.com/acme/site",
		"http://github.com/acme/site/":      "github.com/acme/site",
		"git@github.com:acme/site.git":      "github.com/acme/site",
		"ssh://git@github.com/acme/site":    "github.com/acme/site",
		"git://github.com/acme/site.git":    "github.com/acme/site",
		"https://GitHub.com/acme/site.GIT/": "github.com/acme/site",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeRepoURL(in), "input %q", in)
	}
}

func TestMatchPathGlob(t *testing.T) {
	cases := []struct {
		pattern, path string
		want          bool
	}{
		{"*.md", "README.md", true},
		{"*.md", "docs/README.md", false},
		{"**/*.md", "docs/deep/README.md", true},
		{"**/*.md", "README.md", true},
		{"src/**", "src/a/b/c.go", true},
		{"src/**", "src", true},
		{"src/*", "src/a.go", true},
		{"src/*", "src/a/b.go", false},
		{"src/*.go", "src/main.go", true},
		{"src/*.go", "src/main.ts", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, MatchPathGlob(tc.pattern, tc.path), "%s vs %s", tc.pattern, tc.path)
	}
}

func TestShouldTrigger(t *testing.T) {
	project := &domain.Project{
		RepoURL:       "git@github.com:acme/site.git",
		DefaultBranch: "main",
		AutoDeploy:    true,
	}
	event := &PushEvent{
		Branch:          "main",
		RepoURL:         "https://github.com/acme/site.git",
		AddedOrModified: []string{"index.html"},
	}

	d := ShouldTrigger(project, event)
	assert.True(t, d.Trigger, d.Reason)

	t.Run("auto deploy off", func(t *testing.T) {
		p := *project
		p.AutoDeploy = false
		d := ShouldTrigger(&p, event)
		assert.False(t, d.Trigger)
		assert.NotEmpty(t, d.Reason)
	})

	t.Run("branch mismatch", func(t *testing.T) {
		ev := *event
		ev.Branch = "develop"
		d := ShouldTrigger(project, &ev)
		assert.False(t, d.Trigger)
	})

	t.Run("repo mismatch", func(t *testing.T) {
		ev := *event
		ev.RepoURL = "https://github.com/other/site.git"
		d := ShouldTrigger(project, &ev)
		assert.False(t, d.Trigger)
	})

	t.Run("path filter", func(t *testing.T) {
		p := *project
		p.DeployOnPaths = []string{"src/**", "*.html"}

		d := ShouldTrigger(&p, event)
		assert.True(t, d.Trigger, "index.html should match *.html")

		ev := *event
		ev.AddedOrModified = []string{"docs/notes.txt"}
		d = ShouldTrigger(&p, &ev)
		assert.False(t, d.Trigger)

		// Removed-only pushes never match the added-or-modified filter.
		ev.AddedOrModified = nil
		ev.ChangedFiles = []string{"src/app.go"}
		d = ShouldTrigger(&p, &ev)
		assert.False(t, d.Trigger)
	})
}
