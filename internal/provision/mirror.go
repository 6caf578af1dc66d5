package provision

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	apperrors "github.com/savaki/mlops-provisioner/internal/errors"
	"github.com/savaki/mlops-provisioner/internal/models"
	"github.com/savaki/mlops-provisioner/internal/services"
)

// syncManifestPath is the committed record of what the mirror last wrote:
// destPath -> template blob SHA. It is how a later run distinguishes "file
// changed because the template moved on" from "someone edited the repo".
const syncManifestPath = ".mlops/sync-manifest.json"

const defaultFileMode = "100644"

// RepositoryMirror copies a constrained subset of a template repository's
// tree into a target repository. The mirrored set is computed once as an
// explicit (sourcePath, destPath) manifest, then applied as a single overlay
// commit on the target's default branch. Files outside the mirrored subpath
// are never touched, and conflicting local modifications fail the step
// rather than being force-pushed over.
type RepositoryMirror struct {
	host  RepoHost
	retry RetryPolicy
}

// NewRepositoryMirror constructs a mirror
func NewRepositoryMirror(host RepoHost, retry RetryPolicy) *RepositoryMirror {
	return &RepositoryMirror{host: host, retry: retry}
}

// MirrorInput describes one mirror operation.
type MirrorInput struct {
	Template      models.TemplateRef
	Subpath       string // subtree within the template to mirror, e.g. "regression/model_build"
	Target        models.RepositoryDescriptor
	CommitMessage string
}

// Mirror ensures the target repository exists and overlays the template
// subtree onto its default branch. The whole operation is idempotent: a
// rerun over an up-to-date target makes no commit.
func (m *RepositoryMirror) Mirror(ctx context.Context, input MirrorInput) models.StepOutcome {
	logger := zerolog.Ctx(ctx)

	var actions []string
	fail := func(err error, message string) models.StepOutcome {
		logger.Error().Err(err).Str("repo", input.Target.FullName()).Msg(message)
		return models.StepOutcome{
			Status:           models.StepFailed,
			CompletedActions: actions,
			Error: &models.ErrorDetail{
				Step:    "MirrorRepository",
				Kind:    string(apperrors.KindOf(err)),
				Message: fmt.Sprintf("%s: %v", message, err),
			},
		}
	}

	// Step 1: ensure the target repository exists. "Already exists" is
	// success, which makes a rerun after partial failure safe.
	err := m.retry.Do(ctx, "ensure-repository", func() error {
		created, err := m.host.EnsureRepository(ctx, input.Target.Organization, input.Target.RepoName,
			fmt.Sprintf("Synchronized from %s/%s", input.Template.Organization, input.Template.RepoName))
		if err != nil {
			return err
		}
		if created {
			logger.Info().Str("repo", input.Target.FullName()).Msg("Created repository")
		}
		return nil
	})
	if err != nil {
		return fail(err, "failed to ensure target repository")
	}
	actions = append(actions, fmt.Sprintf("ensure-repository:%s", input.Target.RepoName))

	// Step 2: compute the mirror manifest from the template tree.
	manifest, err := m.computeManifest(ctx, input)
	if err != nil {
		return fail(err, "failed to compute mirror manifest")
	}
	actions = append(actions, fmt.Sprintf("compute-manifest:%d", len(manifest)))

	// Step 3: apply the manifest as one overlay commit.
	applied, err := m.apply(ctx, input, manifest)
	if err != nil {
		return fail(err, "failed to apply mirror manifest")
	}

	for _, entry := range applied {
		actions = append(actions, fmt.Sprintf("copy:%s", entry.DestPath))
	}
	if len(applied) > 0 {
		actions = append(actions, "push")
	} else {
		logger.Info().Str("repo", input.Target.FullName()).Msg("Target already up to date with template")
	}

	return models.StepOutcome{
		Status:           models.StepSucceeded,
		CompletedActions: actions,
	}
}

// computeManifest lists the template tree once and selects the blobs under
// the requested subpath. Only the subtree is fetched downstream, never the
// rest of the template repository.
func (m *RepositoryMirror) computeManifest(ctx context.Context, input MirrorInput) ([]models.MirrorEntry, error) {
	var entries []services.TreeEntry
	err := m.retry.Do(ctx, "list-template-tree", func() error {
		listed, err := m.host.ListTree(ctx, input.Template.Organization, input.Template.RepoName, input.Template.Ref)
		if err != nil {
			return err
		}
		entries = listed
		return nil
	})
	if err != nil {
		return nil, err
	}

	prefix := strings.Trim(input.Subpath, "/") + "/"

	var manifest []models.MirrorEntry
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Path, prefix) {
			continue
		}
		manifest = append(manifest, models.MirrorEntry{
			SourcePath: entry.Path,
			DestPath:   strings.TrimPrefix(entry.Path, prefix),
			BlobSHA:    entry.SHA,
		})
	}

	if len(manifest) == 0 {
		return nil, apperrors.New(apperrors.KindNotFound,
			fmt.Errorf("%w: %s@%s has no files under %s",
				apperrors.ErrTemplateMissing, input.Template.RepoName, input.Template.Ref, input.Subpath))
	}

	sort.Slice(manifest, func(i, j int) bool {
		return manifest[i].DestPath < manifest[j].DestPath
	})
	return manifest, nil
}

// apply overlays the manifest onto the target branch. Returns the entries
// that actually changed; an empty slice means the target was already up to
// date and no commit was made.
func (m *RepositoryMirror) apply(ctx context.Context, input MirrorInput, manifest []models.MirrorEntry) ([]models.MirrorEntry, error) {
	target := input.Target

	head, err := m.host.GetBranchHead(ctx, target.Organization, target.RepoName, target.DefaultBranch)
	if err != nil {
		return nil, err
	}

	existing := map[string]string{} // destPath -> blob SHA in target
	lastSynced := map[string]string{}
	if head != nil {
		targetTree, err := m.host.ListTree(ctx, target.Organization, target.RepoName, head.CommitSHA)
		if err != nil {
			return nil, err
		}
		for _, entry := range targetTree {
			existing[entry.Path] = entry.SHA
		}
		lastSynced, err = m.loadSyncManifest(ctx, target, existing)
		if err != nil {
			return nil, err
		}
	}

	changed, err := m.selectChanged(manifest, existing, lastSynced)
	if err != nil {
		return nil, err
	}
	if len(changed) == 0 {
		return nil, nil
	}

	var specs []services.TreeSpec
	for _, entry := range changed {
		content, err := m.fetchBlob(ctx, input.Template, entry)
		if err != nil {
			return nil, err
		}
		sha, err := m.host.CreateBlob(ctx, target.Organization, target.RepoName, content)
		if err != nil {
			return nil, err
		}
		specs = append(specs, services.TreeSpec{
			Path: entry.DestPath,
			Mode: defaultFileMode,
			Type: "blob",
			SHA:  sha,
		})
	}

	// Record the full manifest, not only the changed subset, so the next run
	// can audit every mirrored file.
	manifestSpec, err := m.writeSyncManifest(ctx, target, manifest)
	if err != nil {
		return nil, err
	}
	specs = append(specs, *manifestSpec)

	baseTree := ""
	var parents []string
	if head != nil {
		baseTree = head.TreeSHA
		parents = []string{head.CommitSHA}
	}

	treeSHA, err := m.host.CreateTree(ctx, target.Organization, target.RepoName, baseTree, specs)
	if err != nil {
		return nil, err
	}

	commitSHA, err := m.host.CreateCommit(ctx, target.Organization, target.RepoName, input.CommitMessage, treeSHA, parents)
	if err != nil {
		return nil, err
	}

	if head == nil {
		err = m.host.CreateRef(ctx, target.Organization, target.RepoName, target.DefaultBranch, commitSHA)
	} else {
		err = m.host.UpdateRef(ctx, target.Organization, target.RepoName, target.DefaultBranch, commitSHA)
	}
	if err != nil {
		return nil, err
	}

	return changed, nil
}

// selectChanged compares the manifest against the target tree. A destination
// file whose content differs from both the template blob and the last-synced
// blob was edited in the target repository; overwriting it would destroy
// someone's work, so the operation fails with Conflict instead.
func (m *RepositoryMirror) selectChanged(manifest []models.MirrorEntry, existing, lastSynced map[string]string) ([]models.MirrorEntry, error) {
	var changed []models.MirrorEntry
	for _, entry := range manifest {
		current, exists := existing[entry.DestPath]
		if !exists {
			changed = append(changed, entry)
			continue
		}
		if current == entry.BlobSHA {
			continue // already identical to the template
		}
		if synced, ok := lastSynced[entry.DestPath]; ok && synced == current {
			// untouched since the last sync; safe to update
			changed = append(changed, entry)
			continue
		}
		return nil, apperrors.New(apperrors.KindConflict,
			fmt.Errorf("local modifications at %s conflict with template %s", entry.DestPath, entry.SourcePath))
	}
	return changed, nil
}

func (m *RepositoryMirror) fetchBlob(ctx context.Context, template models.TemplateRef, entry models.MirrorEntry) ([]byte, error) {
	var content []byte
	err := m.retry.Do(ctx, fmt.Sprintf("fetch-blob:%s", entry.SourcePath), func() error {
		data, err := m.host.GetBlob(ctx, template.Organization, template.RepoName, entry.BlobSHA)
		if err != nil {
			return err
		}
		content = data
		return nil
	})
	return content, err
}

func (m *RepositoryMirror) loadSyncManifest(ctx context.Context, target models.RepositoryDescriptor, existing map[string]string) (map[string]string, error) {
	sha, ok := existing[syncManifestPath]
	if !ok {
		return map[string]string{}, nil
	}

	data, err := m.host.GetBlob(ctx, target.Organization, target.RepoName, sha)
	if err != nil {
		return nil, err
	}

	var manifest map[string]string
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", syncManifestPath, err)
	}
	return manifest, nil
}

func (m *RepositoryMirror) writeSyncManifest(ctx context.Context, target models.RepositoryDescriptor, manifest []models.MirrorEntry) (*services.TreeSpec, error) {
	record := make(map[string]string, len(manifest))
	for _, entry := range manifest {
		record[entry.DestPath] = entry.BlobSHA
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sync manifest: %w", err)
	}

	sha, err := m.host.CreateBlob(ctx, target.Organization, target.RepoName, data)
	if err != nil {
		return nil, err
	}

	return &services.TreeSpec{
		Path: syncManifestPath,
		Mode: defaultFileMode,
		Type: "blob",
		SHA:  sha,
	}, nil
}
