package provision

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/savaki/mlops-provisioner/internal/errors"
	"github.com/savaki/mlops-provisioner/internal/models"
	"github.com/savaki/mlops-provisioner/internal/services"
)

func mirrorInput() MirrorInput {
	return MirrorInput{
		Template: models.TemplateRef{Organization: "templates-org", RepoName: "mlops-templates", Ref: "main"},
		Subpath:  "templates/regression/model_build",
		Target: models.RepositoryDescriptor{
			Organization:  "acme",
			RepoName:      "p-123-build-repo",
			DefaultBranch: "main",
		},
		CommitMessage: "Sync model build template",
	}
}

func TestMirror_EmptyTargetRepo(t *testing.T) {
	host := newFakeRepoHost()
	host.addFile("templates-org", "mlops-templates", "main", "templates/regression/model_build/pipeline.py", []byte("pipeline"))
	host.addFile("templates-org", "mlops-templates", "main", "templates/regression/model_build/buildspec.yml", []byte("build"))
	host.addFile("templates-org", "mlops-templates", "main", "templates/regression/model_deploy/endpoint.py", []byte("deploy"))

	mirror := NewRepositoryMirror(host, fastRetry())
	outcome := mirror.Mirror(context.Background(), mirrorInput())

	require.Equal(t, models.StepSucceeded, outcome.Status)
	assert.Contains(t, outcome.CompletedActions, "ensure-repository:p-123-build-repo")
	assert.Contains(t, outcome.CompletedActions, "copy:pipeline.py")
	assert.Contains(t, outcome.CompletedActions, "copy:buildspec.yml")
	assert.NotContains(t, outcome.CompletedActions, "copy:endpoint.py", "files outside the subtree must not be mirrored")
	assert.Contains(t, outcome.CompletedActions, "push")

	// empty repo means a new ref, never a forced update
	require.Len(t, host.refCreates, 1)
	assert.Empty(t, host.refUpdates)

	// the commit carries the sync manifest alongside the mirrored files
	specs := host.lastCommitSpecs()
	paths := make([]string, 0, len(specs))
	for _, spec := range specs {
		paths = append(paths, spec.Path)
	}
	assert.Contains(t, paths, ".mlops/sync-manifest.json")
}

func TestMirror_AlreadyUpToDate(t *testing.T) {
	host := newFakeRepoHost()
	sha := host.addFile("templates-org", "mlops-templates", "main", "templates/regression/model_build/pipeline.py", []byte("pipeline"))

	// target already holds identical content
	host.repos["acme/p-123-build-repo"] = true
	host.addFile("acme", "p-123-build-repo", "head-1", "pipeline.py", []byte("pipeline"))
	host.heads["acme/p-123-build-repo/main"] = &services.BranchHead{CommitSHA: "head-1", TreeSHA: "tree-head-1"}

	mirror := NewRepositoryMirror(host, fastRetry())
	outcome := mirror.Mirror(context.Background(), mirrorInput())

	require.Equal(t, models.StepSucceeded, outcome.Status)
	assert.NotContains(t, outcome.CompletedActions, "push")
	assert.Empty(t, host.refUpdates, "no commit expected when content matches")
	assert.Empty(t, host.refCreates)
	_ = sha
}

func TestMirror_UpdatesPreviouslySyncedFile(t *testing.T) {
	host := newFakeRepoHost()
	host.addFile("templates-org", "mlops-templates", "main", "templates/regression/model_build/pipeline.py", []byte("pipeline v2"))

	// target holds v1, and the committed manifest records v1 as last synced
	host.repos["acme/p-123-build-repo"] = true
	oldSHA := host.addFile("acme", "p-123-build-repo", "head-1", "pipeline.py", []byte("pipeline v1"))
	manifest, err := json.Marshal(map[string]string{"pipeline.py": oldSHA})
	require.NoError(t, err)
	host.addFile("acme", "p-123-build-repo", "head-1", ".mlops/sync-manifest.json", manifest)
	host.heads["acme/p-123-build-repo/main"] = &services.BranchHead{CommitSHA: "head-1", TreeSHA: "tree-head-1"}

	mirror := NewRepositoryMirror(host, fastRetry())
	outcome := mirror.Mirror(context.Background(), mirrorInput())

	require.Equal(t, models.StepSucceeded, outcome.Status)
	assert.Contains(t, outcome.CompletedActions, "copy:pipeline.py")
	assert.Contains(t, outcome.CompletedActions, "push")
	require.Len(t, host.refUpdates, 1)
}

func TestMirror_LocalModificationConflicts(t *testing.T) {
	host := newFakeRepoHost()
	templateSHA := host.addFile("templates-org", "mlops-templates", "main", "templates/regression/model_build/pipeline.py", []byte("pipeline v2"))

	// target holds edits nobody synced; the manifest records a third SHA
	host.repos["acme/p-123-build-repo"] = true
	host.addFile("acme", "p-123-build-repo", "head-1", "pipeline.py", []byte("locally edited"))
	manifest, err := json.Marshal(map[string]string{"pipeline.py": "sha-of-v1"})
	require.NoError(t, err)
	host.addFile("acme", "p-123-build-repo", "head-1", ".mlops/sync-manifest.json", manifest)
	host.heads["acme/p-123-build-repo/main"] = &services.BranchHead{CommitSHA: "head-1", TreeSHA: "tree-head-1"}

	mirror := NewRepositoryMirror(host, fastRetry())
	outcome := mirror.Mirror(context.Background(), mirrorInput())

	require.Equal(t, models.StepFailed, outcome.Status)
	require.NotNil(t, outcome.Error)
	assert.Equal(t, string(apperrors.KindConflict), outcome.Error.Kind)
	assert.Contains(t, outcome.Error.Message, "pipeline.py")
	assert.Empty(t, host.refUpdates, "conflicts must never be pushed over")
	_ = templateSHA
}

func TestMirror_MissingTemplateSubtree(t *testing.T) {
	host := newFakeRepoHost()
	host.addFile("templates-org", "mlops-templates", "main", "templates/classification/model_build/pipeline.py", []byte("other profile"))

	mirror := NewRepositoryMirror(host, fastRetry())
	outcome := mirror.Mirror(context.Background(), mirrorInput())

	require.Equal(t, models.StepFailed, outcome.Status)
	require.NotNil(t, outcome.Error)
	assert.Equal(t, string(apperrors.KindNotFound), outcome.Error.Kind)
}

func TestMirror_OverlayPreservesTargetFiles(t *testing.T) {
	host := newFakeRepoHost()
	host.addFile("templates-org", "mlops-templates", "main", "templates/regression/model_build/pipeline.py", []byte("pipeline"))

	// target has an unrelated file; the overlay commit must use the head tree
	// as base so that file survives
	host.repos["acme/p-123-build-repo"] = true
	host.addFile("acme", "p-123-build-repo", "head-1", "README.md", []byte("readme"))
	host.heads["acme/p-123-build-repo/main"] = &services.BranchHead{CommitSHA: "head-1", TreeSHA: "tree-head-1"}

	mirror := NewRepositoryMirror(host, fastRetry())
	outcome := mirror.Mirror(context.Background(), mirrorInput())

	require.Equal(t, models.StepSucceeded, outcome.Status)
	require.NotEmpty(t, host.commits)
	last := host.commits[len(host.commits)-1]
	assert.Equal(t, []string{"head-1"}, last.parents)
	for _, spec := range last.specs {
		assert.NotEqual(t, "README.md", spec.Path, "overlay must not touch unrelated files")
	}
}
