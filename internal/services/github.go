package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/nacl/box"

	apperrors "github.com/savaki/mlops-provisioner/internal/errors"
)

const defaultGitHubBaseURL = "https://api.github.com"

// GitHubService wraps the subset of the GitHub REST API the provisioner
// needs: repository creation, tree/content reads, commit/push via the Git
// Data API, Actions secret upsert, and workflow dispatch.
type GitHubService struct {
	token      string
	baseURL    string
	httpClient *http.Client

	mu         sync.Mutex
	publicKeys map[string]*GitHubPublicKey // "owner/repo" -> secrets public key
}

// GitHubOption customizes the service, primarily for tests.
type GitHubOption func(*GitHubService)

// WithBaseURL overrides the GitHub API base URL
func WithBaseURL(url string) GitHubOption {
	return func(g *GitHubService) {
		g.baseURL = strings.TrimSuffix(url, "/")
	}
}

// WithHTTPClient overrides the HTTP client
func WithHTTPClient(client *http.Client) GitHubOption {
	return func(g *GitHubService) {
		g.httpClient = client
	}
}

func NewGitHubService(token string, opts ...GitHubOption) *GitHubService {
	g := &GitHubService{
		token:      token,
		baseURL:    defaultGitHubBaseURL,
		httpClient: &http.Client{},
		publicKeys: map[string]*GitHubPublicKey{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *GitHubService) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+g.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return req, nil
}

// apiError converts a non-success response into a classified error.
func apiError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	kind := apperrors.ClassifyHTTPStatus(resp.StatusCode)
	return apperrors.New(kind, fmt.Errorf("%s: status %d, body: %s", op, resp.StatusCode, string(body)))
}

// EnsureRepository creates a private repository in the organization if it
// does not already exist. "Name already exists" is success, so a retried
// step never fails here after a partial run. Returns true when the call
// actually created the repository.
//
// The repository is created without an initial commit: the first template
// sync bootstraps the default branch itself, and an auto-generated README
// would collide with a template README on that first sync.
func (g *GitHubService) EnsureRepository(ctx context.Context, org, name, description string) (bool, error) {
	payload := map[string]any{
		"name":        name,
		"private":     true,
		"auto_init":   false,
		"description": description,
	}

	req, err := g.newRequest(ctx, http.MethodPost, fmt.Sprintf("/orgs/%s/repos", org), payload)
	if err != nil {
		return false, err
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return false, apperrors.New(apperrors.KindTransient, fmt.Errorf("failed to create repository: %w", err))
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK:
		return true, nil
	case http.StatusUnprocessableEntity:
		// 422 with "name already exists" means a previous run got this far
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if strings.Contains(string(body), "already exists") {
			return false, nil
		}
		return false, apperrors.New(apperrors.KindInternal,
			fmt.Errorf("failed to create repository %s/%s: status 422, body: %s", org, name, string(body)))
	default:
		return false, apiError(fmt.Sprintf("create repository %s/%s", org, name), resp)
	}
}

// BranchHead holds the tip of a branch.
type BranchHead struct {
	CommitSHA string
	TreeSHA   string
}

type branchResponse struct {
	Commit struct {
		SHA    string `json:"sha"`
		Commit struct {
			Tree struct {
				SHA string `json:"sha"`
			} `json:"tree"`
		} `json:"commit"`
	} `json:"commit"`
}

// GetBranchHead returns the head commit of a branch, or nil when the branch
// does not exist yet (freshly created repository before the first push).
func (g *GitHubService) GetBranchHead(ctx context.Context, owner, repo, branch string) (*BranchHead, error) {
	req, err := g.newRequest(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s/branches/%s", owner, repo, branch), nil)
	if err != nil {
		return nil, err
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.New(apperrors.KindTransient, fmt.Errorf("failed to get branch %s: %w", branch, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(fmt.Sprintf("get branch %s/%s@%s", owner, repo, branch), resp)
	}

	var br branchResponse
	if err := json.NewDecoder(resp.Body).Decode(&br); err != nil {
		return nil, fmt.Errorf("failed to decode branch response: %w", err)
	}

	return &BranchHead{
		CommitSHA: br.Commit.SHA,
		TreeSHA:   br.Commit.Commit.Tree.SHA,
	}, nil
}

// TreeEntry is one entry of a git tree listing.
type TreeEntry struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
	Type string `json:"type"`
	SHA  string `json:"sha"`
}

type treeResponse struct {
	SHA       string      `json:"sha"`
	Tree      []TreeEntry `json:"tree"`
	Truncated bool        `json:"truncated"`
}

// ListTree lists the full tree at ref recursively. Only blob entries are
// returned; directory entries carry no content to mirror.
func (g *GitHubService) ListTree(ctx context.Context, owner, repo, ref string) ([]TreeEntry, error) {
	path := fmt.Sprintf("/repos/%s/%s/git/trees/%s?recursive=1", owner, repo, ref)
	req, err := g.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.New(apperrors.KindTransient, fmt.Errorf("failed to list tree: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(fmt.Sprintf("list tree %s/%s@%s", owner, repo, ref), resp)
	}

	var tr treeResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("failed to decode tree response: %w", err)
	}
	if tr.Truncated {
		return nil, fmt.Errorf("tree listing for %s/%s@%s was truncated by the API", owner, repo, ref)
	}

	var blobs []TreeEntry
	for _, entry := range tr.Tree {
		if entry.Type == "blob" {
			blobs = append(blobs, entry)
		}
	}
	return blobs, nil
}

type blobResponse struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

// GetBlob fetches raw blob content by SHA.
func (g *GitHubService) GetBlob(ctx context.Context, owner, repo, sha string) ([]byte, error) {
	req, err := g.newRequest(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s/git/blobs/%s", owner, repo, sha), nil)
	if err != nil {
		return nil, err
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.New(apperrors.KindTransient, fmt.Errorf("failed to get blob: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(fmt.Sprintf("get blob %s", sha), resp)
	}

	var br blobResponse
	if err := json.NewDecoder(resp.Body).Decode(&br); err != nil {
		return nil, fmt.Errorf("failed to decode blob response: %w", err)
	}

	if br.Encoding != "base64" {
		return []byte(br.Content), nil
	}

	// GitHub wraps base64 blob content with newlines
	cleaned := strings.ReplaceAll(br.Content, "\n", "")
	data, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("failed to decode blob content: %w", err)
	}
	return data, nil
}

// CreateBlob uploads content as a new blob and returns its SHA.
func (g *GitHubService) CreateBlob(ctx context.Context, owner, repo string, content []byte) (string, error) {
	payload := map[string]string{
		"content":  base64.StdEncoding.EncodeToString(content),
		"encoding": "base64",
	}

	req, err := g.newRequest(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/%s/git/blobs", owner, repo), payload)
	if err != nil {
		return "", err
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", apperrors.New(apperrors.KindTransient, fmt.Errorf("failed to create blob: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", apiError("create blob", resp)
	}

	var result struct {
		SHA string `json:"sha"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode blob response: %w", err)
	}
	return result.SHA, nil
}

// TreeSpec is one entry of a tree creation request.
type TreeSpec struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
	Type string `json:"type"`
	SHA  string `json:"sha"`
}

// CreateTree creates a tree on top of baseTree and returns its SHA. Passing
// the current head tree as base makes the write an overlay: files outside
// the supplied entries are preserved.
func (g *GitHubService) CreateTree(ctx context.Context, owner, repo, baseTree string, entries []TreeSpec) (string, error) {
	payload := map[string]any{"tree": entries}
	if baseTree != "" {
		payload["base_tree"] = baseTree
	}

	req, err := g.newRequest(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/%s/git/trees", owner, repo), payload)
	if err != nil {
		return "", err
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", apperrors.New(apperrors.KindTransient, fmt.Errorf("failed to create tree: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", apiError("create tree", resp)
	}

	var result struct {
		SHA string `json:"sha"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode tree response: %w", err)
	}
	return result.SHA, nil
}

// CreateCommit creates a commit pointing at treeSHA with the given parents.
func (g *GitHubService) CreateCommit(ctx context.Context, owner, repo, message, treeSHA string, parents []string) (string, error) {
	payload := map[string]any{
		"message": message,
		"tree":    treeSHA,
		"parents": parents,
	}

	req, err := g.newRequest(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/%s/git/commits", owner, repo), payload)
	if err != nil {
		return "", err
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", apperrors.New(apperrors.KindTransient, fmt.Errorf("failed to create commit: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", apiError("create commit", resp)
	}

	var result struct {
		SHA string `json:"sha"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode commit response: %w", err)
	}
	return result.SHA, nil
}

// UpdateRef moves a branch to sha. force is always false: a non-fast-forward
// rejection surfaces as Conflict rather than overwriting someone's commits.
func (g *GitHubService) UpdateRef(ctx context.Context, owner, repo, branch, sha string) error {
	payload := map[string]any{
		"sha":   sha,
		"force": false,
	}

	req, err := g.newRequest(ctx, http.MethodPatch, fmt.Sprintf("/repos/%s/%s/git/refs/heads/%s", owner, repo, branch), payload)
	if err != nil {
		return err
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return apperrors.New(apperrors.KindTransient, fmt.Errorf("failed to update ref: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(fmt.Sprintf("update ref %s/%s@%s", owner, repo, branch), resp)
	}
	return nil
}

// CreateRef creates a branch pointing at sha, for repositories whose default
// branch has no commits yet.
func (g *GitHubService) CreateRef(ctx context.Context, owner, repo, branch, sha string) error {
	payload := map[string]any{
		"ref": "refs/heads/" + branch,
		"sha": sha,
	}

	req, err := g.newRequest(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/%s/git/refs", owner, repo), payload)
	if err != nil {
		return err
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return apperrors.New(apperrors.KindTransient, fmt.Errorf("failed to create ref: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return apiError(fmt.Sprintf("create ref %s/%s@%s", owner, repo, branch), resp)
	}
	return nil
}

type GitHubPublicKey struct {
	KeyID string `json:"key_id"`
	Key   string `json:"key"`
}

type GitHubSecretRequest struct {
	EncryptedValue string `json:"encrypted_value"`
	KeyID          string `json:"key_id"`
}

// GetPublicKey fetches the repository's public key for encrypting secrets.
// The key is stable per repository, so it is cached after the first fetch and
// a full secret set costs one key lookup instead of one per secret.
func (g *GitHubService) GetPublicKey(ctx context.Context, owner, repo string) (*GitHubPublicKey, error) {
	cacheKey := owner + "/" + repo
	g.mu.Lock()
	if key, ok := g.publicKeys[cacheKey]; ok {
		g.mu.Unlock()
		return key, nil
	}
	g.mu.Unlock()

	req, err := g.newRequest(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s/actions/secrets/public-key", owner, repo), nil)
	if err != nil {
		return nil, err
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.New(apperrors.KindTransient, fmt.Errorf("failed to fetch public key: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(fmt.Sprintf("fetch public key %s/%s", owner, repo), resp)
	}

	var publicKey GitHubPublicKey
	if err := json.NewDecoder(resp.Body).Decode(&publicKey); err != nil {
		return nil, fmt.Errorf("failed to decode public key: %w", err)
	}

	g.mu.Lock()
	g.publicKeys[cacheKey] = &publicKey
	g.mu.Unlock()

	return &publicKey, nil
}

// encryptSecret encrypts a secret value using libsodium sealed box
func (g *GitHubService) encryptSecret(publicKeyBase64, secretValue string) (string, error) {
	publicKeyBytes, err := base64.StdEncoding.DecodeString(publicKeyBase64)
	if err != nil {
		return "", fmt.Errorf("failed to decode public key: %w", err)
	}

	if len(publicKeyBytes) != 32 {
		return "", fmt.Errorf("invalid public key length: expected 32, got %d", len(publicKeyBytes))
	}

	var publicKey [32]byte
	copy(publicKey[:], publicKeyBytes)

	encrypted, err := box.SealAnonymous(nil, []byte(secretValue), &publicKey, rand.Reader)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt secret: %w", err)
	}

	return base64.StdEncoding.EncodeToString(encrypted), nil
}

// CreateOrUpdateSecret upserts a repository Actions secret. The PUT endpoint
// is create-or-update by definition, so repeated invocation converges.
func (g *GitHubService) CreateOrUpdateSecret(ctx context.Context, owner, repo, secretName, secretValue string) error {
	publicKey, err := g.GetPublicKey(ctx, owner, repo)
	if err != nil {
		return fmt.Errorf("failed to get public key: %w", err)
	}

	encryptedValue, err := g.encryptSecret(publicKey.Key, secretValue)
	if err != nil {
		return fmt.Errorf("failed to encrypt secret: %w", err)
	}

	requestBody := GitHubSecretRequest{
		EncryptedValue: encryptedValue,
		KeyID:          publicKey.KeyID,
	}

	path := fmt.Sprintf("/repos/%s/%s/actions/secrets/%s", owner, repo, secretName)
	req, err := g.newRequest(ctx, http.MethodPut, path, requestBody)
	if err != nil {
		return err
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return apperrors.New(apperrors.KindTransient, fmt.Errorf("failed to create/update secret: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		return apiError(fmt.Sprintf("create/update secret %s", secretName), resp)
	}

	return nil
}

// DispatchWorkflow fires a workflow_dispatch event for the named workflow
// file. Fire-and-forget: a 204 confirms the dispatch was accepted, it does
// not wait for the CI run.
func (g *GitHubService) DispatchWorkflow(ctx context.Context, owner, repo, workflowFile, ref string, inputs map[string]string) error {
	payload := map[string]any{
		"ref": ref,
	}
	if len(inputs) > 0 {
		payload["inputs"] = inputs
	}

	path := fmt.Sprintf("/repos/%s/%s/actions/workflows/%s/dispatches", owner, repo, workflowFile)
	req, err := g.newRequest(ctx, http.MethodPost, path, payload)
	if err != nil {
		return err
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return apperrors.New(apperrors.KindTransient, fmt.Errorf("failed to dispatch workflow: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return apiError(fmt.Sprintf("dispatch workflow %s on %s/%s", workflowFile, owner, repo), resp)
	}

	return nil
}
