package domain

// Context is the read-only variable map substituted into pipeline commands.
// It lives for exactly one deployment.
type Context map[string]string

// Well-known context variable names. Commands reference them as {{Name}}.
const (
	CtxProjectName      = "ProjectName"
	CtxProjectID        = "ProjectId"
	CtxDeploymentID     = "DeploymentId"
	CtxRepoName         = "RepoName"
	CtxRepoURL          = "RepoUrl"
	CtxBranch           = "Branch"
	CtxCommit           = "Commit"
	CtxCommitHash       = "CommitHash"
	CtxCommitMessage    = "CommitMessage"
	CtxAuthor           = "Author"
	CtxEnvironment      = "Environment"
	CtxWorkingDirectory = "WorkingDirectory"
	CtxProjectPath      = "ProjectPath"
	CtxTargetPath       = "TargetPath"
	CtxBuildCommand     = "BuildCommand"
	CtxBuildOutput      = "BuildOutput"
)

// Has reports whether name is present with a non-empty value. This is the
// semantics of the hasVar() predicate in RunIf expressions.
func (c Context) Has(name string) bool {
	v, ok := c[name]
	return ok && v != ""
}
