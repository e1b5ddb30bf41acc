package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/irgordon/deploycenter/internal/core/domain"
)

func TestSubstitute(t *testing.T) {
	ctx := domain.Context{
		"Branch":     "main",
		"TargetPath": "/srv/www/app",
		"Empty":      "",
	}

	cases := []struct {
		in, want string
	}{
		{"git checkout {{Branch}}", "git checkout main"},
		{"cp -r dist/* {{TargetPath}}/", "cp -r dist/* /srv/www/app/"},
		{"echo {{ Branch }}", "echo main"},
		{"echo {{Foo}}", "echo {{Foo}}"}, // unknown names stay literal
		{"echo {{Empty}}", "echo "},      // empty values substitute to empty
		{"no placeholders", "no placeholders"},
		{"{{Branch}}-{{Branch}}", "main-main"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Substitute(tc.in, ctx), tc.in)
	}
}

func TestValidatePipeline(t *testing.T) {
	valid := []domain.PipelineStep{
		{Name: "build", Run: []string{"npm ci", "npm run build"}},
		{Name: "test", Run: []string{"npm test"}, RunIf: `Environment != 'production'`},
	}
	assert.NoError(t, ValidatePipeline(valid))

	assert.Error(t, ValidatePipeline(nil), "empty pipeline is invalid at the runner level")
	assert.Error(t, ValidatePipeline([]domain.PipelineStep{{Name: "", Run: []string{"x"}}}))
	assert.Error(t, ValidatePipeline([]domain.PipelineStep{{Name: "build"}}))
	assert.Error(t, ValidatePipeline([]domain.PipelineStep{{Name: "build", Run: []string{"  "}}}))
}
