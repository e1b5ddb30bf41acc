package syncer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatcher_SystemPatterns(t *testing.T) {
	m := NewMatcher(nil)

	preserved := []string{
		".env",
		".env.production",
		".htaccess",
		".deploy-center",
		".well-known",
		".well-known/acme-challenge/token",
		"ssl/cert.pem",
		"node_modules",
		"node_modules/react/index.js",
		"package-lock.json",
		"uploads/2024/photo.jpg",
		"storage/app/data.json",
		"public/uploads/avatar.png",
		"cache",
		"tmp/build.tmp",
		"error.log",
		"npm-debug.log.1",
		"app.sqlite",
		"data.db",
		"sessions",
		"backups/2024-01-01",
		"site.bak",
		".DS_Store",
		".git",
		".git/HEAD",
	}
	for _, p := range preserved {
		assert.True(t, m.Match(p), "expected %q preserved", p)
	}

	deployed := []string{
		"index.html",
		"dist/app.js",
		"src/main.go",
		"environment.txt",
		"my-uploads.txt",
		"logfile.txt",
		"sub/dir/.env", // top-level patterns do not match nested paths
	}
	for _, p := range deployed {
		assert.False(t, m.Match(p), "expected %q deployable", p)
	}
}

func TestMatcher_ExtraPatterns(t *testing.T) {
	m := NewMatcher([]string{"config/local.php", "data/**", "  ", ""})

	assert.True(t, m.Match("config/local.php"))
	assert.True(t, m.Match("data"))
	assert.True(t, m.Match("data/nested/file.bin"))
	assert.False(t, m.Match("config/app.php"))
}

func TestMatcher_WildcardSegments(t *testing.T) {
	m := NewMatcher(nil)

	assert.True(t, m.Match(".env.staging"), ".env.* matches any suffix")
	assert.True(t, m.Match("debug.log"))
	assert.False(t, m.Match("log"), "bare name does not match *.log")
	assert.False(t, m.Match("catalog.txt"))
}

func TestMatcher_SeparatorNormalisation(t *testing.T) {
	m := NewMatcher(nil)
	assert.True(t, m.Match(`node_modules\lodash\index.js`))
	assert.True(t, m.Match("./node_modules"))
}
