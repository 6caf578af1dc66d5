package provision

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	apperrors "github.com/savaki/mlops-provisioner/internal/errors"
	"github.com/savaki/mlops-provisioner/internal/models"
)

// SecretProvisioner upserts a named set of secrets onto a repository.
// Idempotent per key: the GitHub PUT endpoint is create-or-update, and keys
// already recorded in a prior attempt's completedActions are skipped, so a
// retried step converges without duplicating work.
type SecretProvisioner struct {
	host  RepoHost
	retry RetryPolicy
}

// NewSecretProvisioner constructs a provisioner
func NewSecretProvisioner(host RepoHost, retry RetryPolicy) *SecretProvisioner {
	return &SecretProvisioner{host: host, retry: retry}
}

// secretAction names the completed-action entry for one secret write.
func secretAction(name string) string {
	return fmt.Sprintf("secret:%s", name)
}

// Provision writes every entry of the set onto the repository, in order.
// completed carries action names from a previous partial attempt; those keys
// are skipped. On failure the outcome names the offending key, never its
// value, and records everything that did finish.
func (p *SecretProvisioner) Provision(ctx context.Context, repo models.RepositoryDescriptor, set models.SecretSet, completed []string) models.StepOutcome {
	logger := zerolog.Ctx(ctx)

	if missing := set.MissingRequired(); len(missing) > 0 {
		return models.StepOutcome{
			Status: models.StepFailed,
			Error: &models.ErrorDetail{
				Step:      "ProvisionSecrets",
				Kind:      string(apperrors.KindInternal),
				Message:   apperrors.ErrMissingRequiredKey.Error(),
				SecretKey: missing[0],
			},
		}
	}

	done := make(map[string]bool, len(completed))
	for _, action := range completed {
		done[action] = true
	}

	var actions []string
	for _, entry := range set.Entries() {
		action := secretAction(entry.Name)

		if done[action] {
			actions = append(actions, action)
			continue
		}
		if !entry.Required && entry.Value == "" {
			logger.Debug().Str("secret", entry.Name).Msg("Skipping empty optional secret")
			continue
		}

		name, value := entry.Name, entry.Value
		err := p.retry.Do(ctx, action, func() error {
			return p.host.CreateOrUpdateSecret(ctx, repo.Organization, repo.RepoName, name, value)
		})
		if err != nil {
			logger.Error().
				Str("repo", repo.FullName()).
				Str("secret", name).
				Str("kind", string(apperrors.KindOf(err))).
				Msg("Failed to write repository secret")

			return models.StepOutcome{
				Status:           models.StepFailed,
				CompletedActions: actions,
				Error: &models.ErrorDetail{
					Step:      "ProvisionSecrets",
					Kind:      string(apperrors.KindOf(err)),
					Message:   fmt.Sprintf("failed to write secret %s", name),
					SecretKey: name,
				},
			}
		}

		logger.Info().Str("repo", repo.FullName()).Str("secret", name).Msg("Wrote repository secret")
		actions = append(actions, action)
	}

	return models.StepOutcome{
		Status:           models.StepSucceeded,
		CompletedActions: actions,
	}
}
