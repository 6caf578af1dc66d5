package provision

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sync"

	apperrors "github.com/savaki/mlops-provisioner/internal/errors"
	"github.com/savaki/mlops-provisioner/internal/services"
)

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 2, BaseDelay: 0, MaxDelay: 0}
}

// fakeRepoHost simulates the narrow slice of the hosting API the provisioner
// touches. Trees are keyed by "owner/repo@ref"; blobs are content addressed
// with git's blob hash so template and target SHAs compare the way they do
// in production.
type fakeRepoHost struct {
	mu sync.Mutex

	repos map[string]bool            // "owner/repo" -> exists
	trees map[string][]services.TreeEntry
	blobs map[string][]byte
	heads map[string]*services.BranchHead // "owner/repo/branch"

	secretsWritten []string // "owner/repo:NAME"
	secretValues   map[string]string
	secretErr      map[string]error // name -> error to return

	commits     []commitRecord
	refUpdates  []string // "owner/repo/branch@sha"
	refCreates  []string
	dispatches  []dispatchRecord
	ensureCalls int
}

type commitRecord struct {
	message string
	treeSHA string
	parents []string
	specs   []services.TreeSpec
}

type dispatchRecord struct {
	owner, repo, workflow, ref string
	inputs                     map[string]string
}

func newFakeRepoHost() *fakeRepoHost {
	return &fakeRepoHost{
		repos:        map[string]bool{},
		trees:        map[string][]services.TreeEntry{},
		blobs:        map[string][]byte{},
		heads:        map[string]*services.BranchHead{},
		secretValues: map[string]string{},
		secretErr:    map[string]error{},
	}
}

func blobSHA(content []byte) string {
	h := sha1.New()
	fmt.Fprintf(h, "blob %d\x00", len(content))
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}

// addTemplateFile registers a blob in the named tree and returns its SHA.
func (f *fakeRepoHost) addFile(owner, repo, ref, path string, content []byte) string {
	sha := blobSHA(content)
	f.blobs[sha] = content
	key := fmt.Sprintf("%s/%s@%s", owner, repo, ref)
	f.trees[key] = append(f.trees[key], services.TreeEntry{Path: path, Type: "blob", Mode: "100644", SHA: sha})
	return sha
}

func (f *fakeRepoHost) EnsureRepository(ctx context.Context, org, name, description string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureCalls++
	key := org + "/" + name
	if f.repos[key] {
		return false, nil
	}
	f.repos[key] = true
	return true, nil
}

func (f *fakeRepoHost) GetBranchHead(ctx context.Context, owner, repo, branch string) (*services.BranchHead, error) {
	return f.heads[fmt.Sprintf("%s/%s/%s", owner, repo, branch)], nil
}

func (f *fakeRepoHost) ListTree(ctx context.Context, owner, repo, ref string) ([]services.TreeEntry, error) {
	return f.trees[fmt.Sprintf("%s/%s@%s", owner, repo, ref)], nil
}

func (f *fakeRepoHost) GetBlob(ctx context.Context, owner, repo, sha string) ([]byte, error) {
	content, ok := f.blobs[sha]
	if !ok {
		return nil, apperrors.New(apperrors.KindNotFound, fmt.Errorf("blob %s not found", sha))
	}
	return content, nil
}

func (f *fakeRepoHost) CreateBlob(ctx context.Context, owner, repo string, content []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sha := blobSHA(content)
	f.blobs[sha] = content
	return sha, nil
}

func (f *fakeRepoHost) CreateTree(ctx context.Context, owner, repo, baseTree string, entries []services.TreeSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sha := fmt.Sprintf("tree-%d", len(f.commits)+1)
	f.commits = append(f.commits, commitRecord{treeSHA: sha, specs: entries})
	return sha, nil
}

func (f *fakeRepoHost) CreateCommit(ctx context.Context, owner, repo, message, treeSHA string, parents []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.commits {
		if f.commits[i].treeSHA == treeSHA {
			f.commits[i].message = message
			f.commits[i].parents = parents
		}
	}
	return fmt.Sprintf("commit-for-%s", treeSHA), nil
}

func (f *fakeRepoHost) UpdateRef(ctx context.Context, owner, repo, branch, sha string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refUpdates = append(f.refUpdates, fmt.Sprintf("%s/%s/%s@%s", owner, repo, branch, sha))
	return nil
}

func (f *fakeRepoHost) CreateRef(ctx context.Context, owner, repo, branch, sha string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refCreates = append(f.refCreates, fmt.Sprintf("%s/%s/%s@%s", owner, repo, branch, sha))
	return nil
}

func (f *fakeRepoHost) CreateOrUpdateSecret(ctx context.Context, owner, repo, secretName, secretValue string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.secretErr[secretName]; ok {
		return err
	}
	f.secretsWritten = append(f.secretsWritten, fmt.Sprintf("%s/%s:%s", owner, repo, secretName))
	f.secretValues[secretName] = secretValue
	return nil
}

func (f *fakeRepoHost) DispatchWorkflow(ctx context.Context, owner, repo, workflowFile, ref string, inputs map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatches = append(f.dispatches, dispatchRecord{owner: owner, repo: repo, workflow: workflowFile, ref: ref, inputs: inputs})
	return nil
}

// lastCommitSpecs returns the tree entries of the most recent commit.
func (f *fakeRepoHost) lastCommitSpecs() []services.TreeSpec {
	if len(f.commits) == 0 {
		return nil
	}
	return f.commits[len(f.commits)-1].specs
}

// fakeTagIndex implements TagIndex with a canned response.
type fakeTagIndex struct {
	match *services.DomainMatch
	err   error
	calls int
}

func (f *fakeTagIndex) FindDomainByProjectTag(ctx context.Context, projectID string) (*services.DomainMatch, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.match, nil
}

// fakeIdentity implements Identity.
type fakeIdentity struct {
	accountID string
}

func (f *fakeIdentity) GetAWSAccountID(ctx context.Context) (string, error) {
	return f.accountID, nil
}

// fakeDomainAPI implements DomainAPI for the status checker tests.
type fakeDomainAPI struct {
	fakeTagIndex
	details *services.DomainDetails
	space   *services.SpaceInfo
}

func (f *fakeDomainAPI) DescribeDomain(ctx context.Context, domainID string) (*services.DomainDetails, error) {
	return f.details, nil
}

func (f *fakeDomainAPI) FirstSpace(ctx context.Context, domainID string) (*services.SpaceInfo, error) {
	return f.space, nil
}

// fakeProjectAPI implements ProjectAPI.
type fakeProjectAPI struct {
	project    *services.ProjectDetails
	projectErr error
	profile    *services.ProfileDetails
	profileErr error
	domainID   string
}

func (f *fakeProjectAPI) GetProject(ctx context.Context, domainID, projectID string) (*services.ProjectDetails, error) {
	if f.projectErr != nil {
		return nil, f.projectErr
	}
	return f.project, nil
}

func (f *fakeProjectAPI) GetProjectProfile(ctx context.Context, domainID, profileID string) (*services.ProfileDetails, error) {
	if f.profileErr != nil {
		return nil, f.profileErr
	}
	return f.profile, nil
}

func (f *fakeProjectAPI) FindDomainForProject(ctx context.Context, projectID string) (string, error) {
	if f.domainID == "" {
		return "", apperrors.New(apperrors.KindNotFound, apperrors.ErrDomainNotFound)
	}
	return f.domainID, nil
}
