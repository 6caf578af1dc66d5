package models

import "fmt"

// RepositoryDescriptor identifies one target repository and the template
// subtree that seeds it.
type RepositoryDescriptor struct {
	Organization       string `json:"organization"`
	RepoName           string `json:"repo_name"`
	DefaultBranch      string `json:"default_branch"`
	TemplateSourcePath string `json:"template_source_path"` // subpath within the template repo, e.g. "regression/model_build"
}

// FullName returns the owner/name form used by the GitHub API.
func (r RepositoryDescriptor) FullName() string {
	return fmt.Sprintf("%s/%s", r.Organization, r.RepoName)
}

// TemplateRef locates the template repository and the ref to mirror from.
type TemplateRef struct {
	Organization string `json:"organization"`
	RepoName     string `json:"repo_name"`
	Ref          string `json:"ref"` // branch name or commit SHA
}

// MirrorEntry is one (sourcePath, destPath) pair of the mirror manifest.
// The manifest is computed once from the template tree and then applied,
// so the mirrored set is auditable and independent of working-directory state.
type MirrorEntry struct {
	SourcePath string `json:"source_path"` // path within the template repository
	DestPath   string `json:"dest_path"`   // path within the target repository
	BlobSHA    string `json:"blob_sha"`    // template blob at the time the manifest was computed
}
