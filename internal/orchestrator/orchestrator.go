package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/ksuid"

	"github.com/savaki/mlops-provisioner/internal/dao/lockdao"
	"github.com/savaki/mlops-provisioner/internal/dao/rundao"
	apperrors "github.com/savaki/mlops-provisioner/internal/errors"
	"github.com/savaki/mlops-provisioner/internal/models"
	"github.com/savaki/mlops-provisioner/internal/provision"
)

// State identifies where a provisioning run currently is. Transitions are
// explicit: only the pairs listed in validTransitions may occur, and every
// transition is logged and persisted before the next step starts.
type State string

const (
	StateInit                   State = "Init"
	StateCheckingStatus         State = "CheckingStatus"
	StateSyncingBuildRepo       State = "SyncingBuildRepo"
	StateProvisioningDeployRepo State = "ProvisioningDeployRepo"
	StateCompleted              State = "Completed"
	StateFailed                 State = "Failed"
)

var validTransitions = map[State][]State{
	StateInit:                   {StateCheckingStatus, StateFailed},
	StateCheckingStatus:         {StateSyncingBuildRepo, StateFailed},
	StateSyncingBuildRepo:       {StateProvisioningDeployRepo, StateFailed},
	StateProvisioningDeployRepo: {StateCompleted, StateFailed},
}

// TriggerProjectCreated and TriggerModelApproval name the two event sources
// recorded on run ledger entries.
const (
	TriggerProjectCreated = "project-created"
	TriggerModelApproval  = "model-approval"
)

// StatusChecker polls project readiness. *provision.ProjectStatusChecker
// satisfies it.
type StatusChecker interface {
	Check(ctx context.Context, pctx models.ProjectContext, profileID string) (*provision.CheckResult, error)
}

// SyncRunner provisions the build repository. *provision.SyncStep satisfies it.
type SyncRunner interface {
	Run(ctx context.Context, pctx models.ProjectContext, completed []string) (models.ProjectContext, models.StepOutcome)
}

// DeployRunner provisions the deploy repository. *provision.DeployRepoStep
// satisfies it.
type DeployRunner interface {
	Run(ctx context.Context, pctx models.ProjectContext, completed []string) models.StepOutcome
}

// RunStore persists run ledger entries. *rundao.DAO satisfies it.
type RunStore interface {
	Create(ctx context.Context, input rundao.CreateInput) (rundao.Record, error)
	UpdateState(ctx context.Context, pk rundao.PK, sk, state string, completedActions []string) error
	Complete(ctx context.Context, pk rundao.PK, sk string, completedActions []string) error
	Fail(ctx context.Context, pk rundao.PK, sk, errorMsg string, completedActions []string) error
}

// LockStore guards against concurrent runs for the same project.
// *lockdao.DAO satisfies it.
type LockStore interface {
	Acquire(ctx context.Context, input lockdao.AcquireInput) (*lockdao.Record, bool, error)
	Release(ctx context.Context, input lockdao.ReleaseInput) error
}

// Options bound the run's waiting behavior.
type Options struct {
	PollInterval  time.Duration // delay between project status polls
	StatusMaxWait time.Duration // give up waiting for the project after this long
	StepTimeout   time.Duration // per-step deadline
}

// DefaultOptions matches the wait behavior of the original state machine:
// poll every 30 seconds for up to 30 minutes, 5 minutes per step.
func DefaultOptions() Options {
	return Options{
		PollInterval:  30 * time.Second,
		StatusMaxWait: 30 * time.Minute,
		StepTimeout:   5 * time.Minute,
	}
}

// Orchestrator sequences the provisioning steps for a newly created project:
// wait for the project to deploy, sync the build repository, then provision
// the deploy repository. Every state change lands in the run ledger before
// the next step executes, so a crashed run can be diagnosed and resumed.
type Orchestrator struct {
	checker StatusChecker
	sync    SyncRunner
	deploy  DeployRunner
	runs    RunStore  // optional
	locks   LockStore // optional, nil disables locking
	opts    Options
}

// New creates a new Orchestrator instance. runs and locks may be nil, which
// disables ledger recording and locking respectively.
func New(checker StatusChecker, sync SyncRunner, deploy DeployRunner, runs RunStore, locks LockStore, opts Options) *Orchestrator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultOptions().PollInterval
	}
	if opts.StatusMaxWait <= 0 {
		opts.StatusMaxWait = DefaultOptions().StatusMaxWait
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = DefaultOptions().StepTimeout
	}
	return &Orchestrator{
		checker: checker,
		sync:    sync,
		deploy:  deploy,
		runs:    runs,
		locks:   locks,
		opts:    opts,
	}
}

// run tracks the mutable state of one orchestration.
type run struct {
	id      string
	pk      rundao.PK
	state   State
	actions []string
	pctx    models.ProjectContext
}

// Run drives one provisioning run to completion. It always returns a
// structured result; errors internal to ledger writes are logged, not fatal.
func (o *Orchestrator) Run(ctx context.Context, event models.ProjectCreatedEvent) models.WorkflowResult {
	r := &run{
		id:    ksuid.New().String(),
		pk:    rundao.NewPK(event.DomainID, event.ProjectID),
		state: StateInit,
		pctx: models.ProjectContext{
			DomainID:  event.DomainID,
			ProjectID: event.ProjectID,
			BuildRepo: event.BuildRepo,
		},
	}

	logger := zerolog.Ctx(ctx).With().
		Str("run_id", r.id).
		Str("domain_id", event.DomainID).
		Str("project_id", event.ProjectID).
		Logger()
	ctx = logger.WithContext(ctx)

	if o.runs != nil {
		_, err := o.runs.Create(ctx, rundao.CreateInput{
			DomainID:  event.DomainID,
			ProjectID: event.ProjectID,
			SK:        r.id,
			Trigger:   TriggerProjectCreated,
		})
		if err != nil {
			logger.Error().Err(err).Msg("Failed to create run ledger entry")
		}
	}

	if o.locks != nil {
		_, acquired, err := o.locks.Acquire(ctx, lockdao.AcquireInput{
			DomainID:  event.DomainID,
			ProjectID: event.ProjectID,
			RunID:     r.id,
		})
		if err != nil {
			return o.fail(ctx, r, "Init", apperrors.KindInternal, fmt.Sprintf("failed to acquire run lock: %v", err), "")
		}
		if !acquired {
			return o.fail(ctx, r, "Init", apperrors.KindConflict, apperrors.ErrLockHeld.Error(), "")
		}
		defer func() {
			if err := o.locks.Release(ctx, lockdao.ReleaseInput{
				DomainID:  event.DomainID,
				ProjectID: event.ProjectID,
				RunID:     r.id,
			}); err != nil {
				logger.Warn().Err(err).Msg("Failed to release run lock")
			}
		}()
	}

	if result, ok := o.checkStatus(ctx, r, event.ProfileID); !ok {
		return result
	}
	if result, ok := o.syncBuildRepo(ctx, r); !ok {
		return result
	}
	if result, ok := o.provisionDeployRepo(ctx, r); !ok {
		return result
	}

	o.transition(ctx, r, StateCompleted)
	if o.runs != nil {
		if err := o.runs.Complete(ctx, r.pk, r.id, r.actions); err != nil {
			logger.Error().Err(err).Msg("Failed to record run completion")
		}
	}
	logger.Info().Int("actions", len(r.actions)).Msg("Provisioning run completed")

	return models.WorkflowResult{
		RunID:            r.id,
		Status:           models.WorkflowCompleted,
		CompletedActions: r.actions,
	}
}

// checkStatus polls until the project is live or the wait budget is spent.
func (o *Orchestrator) checkStatus(ctx context.Context, r *run, profileID string) (models.WorkflowResult, bool) {
	o.transition(ctx, r, StateCheckingStatus)
	logger := zerolog.Ctx(ctx)

	deadline := time.Now().Add(o.opts.StatusMaxWait)
	for {
		result, err := o.checker.Check(ctx, r.pctx, profileID)
		if err != nil {
			return o.fail(ctx, r, "CheckProjectStatus", apperrors.KindOf(err), err.Error(), ""), false
		}

		switch result.State {
		case provision.CheckReady:
			r.pctx = result.Context
			return models.WorkflowResult{}, true
		case provision.CheckFailed:
			return o.fail(ctx, r, "CheckProjectStatus", apperrors.KindInternal, result.Reason, ""), false
		}

		if time.Now().After(deadline) {
			return o.fail(ctx, r, "CheckProjectStatus", apperrors.KindTimeout,
				fmt.Sprintf("project not ready after %s: %s", o.opts.StatusMaxWait, result.Reason), ""), false
		}

		logger.Info().Str("reason", result.Reason).Dur("poll_interval", o.opts.PollInterval).Msg("Project not ready, waiting")
		select {
		case <-time.After(o.opts.PollInterval):
		case <-ctx.Done():
			return o.fail(ctx, r, "CheckProjectStatus", apperrors.KindTimeout, ctx.Err().Error(), ""), false
		}
	}
}

func (o *Orchestrator) syncBuildRepo(ctx context.Context, r *run) (models.WorkflowResult, bool) {
	o.transition(ctx, r, StateSyncingBuildRepo)

	stepCtx, cancel := context.WithTimeout(ctx, o.opts.StepTimeout)
	defer cancel()

	// completed actions resume retries of the same step; a fresh run starts
	// each step with an empty list
	pctx, outcome := o.sync.Run(stepCtx, r.pctx, nil)
	r.pctx = pctx
	r.actions = append(r.actions, outcome.CompletedActions...)
	if !outcome.Succeeded() {
		return o.failOutcome(ctx, r, outcome), false
	}
	return models.WorkflowResult{}, true
}

func (o *Orchestrator) provisionDeployRepo(ctx context.Context, r *run) (models.WorkflowResult, bool) {
	o.transition(ctx, r, StateProvisioningDeployRepo)

	stepCtx, cancel := context.WithTimeout(ctx, o.opts.StepTimeout)
	defer cancel()

	outcome := o.deploy.Run(stepCtx, r.pctx, nil)
	r.actions = append(r.actions, outcome.CompletedActions...)
	if !outcome.Succeeded() {
		return o.failOutcome(ctx, r, outcome), false
	}
	return models.WorkflowResult{}, true
}

// transition moves the run to the next state. An invalid transition is a
// programming error; it is logged loudly and the run proceeds with the forced
// state so the ledger still reflects reality.
func (o *Orchestrator) transition(ctx context.Context, r *run, next State) {
	logger := zerolog.Ctx(ctx)

	if !transitionAllowed(r.state, next) {
		logger.Error().
			Str("from", string(r.state)).
			Str("to", string(next)).
			Msg("Invalid state transition")
	}

	logger.Info().Str("from", string(r.state)).Str("to", string(next)).Msg("State transition")
	r.state = next

	if o.runs != nil && next != StateCompleted && next != StateFailed {
		if err := o.runs.UpdateState(ctx, r.pk, r.id, string(next), r.actions); err != nil {
			logger.Error().Err(err).Msg("Failed to persist run state")
		}
	}
}

func transitionAllowed(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (o *Orchestrator) fail(ctx context.Context, r *run, step string, kind apperrors.Kind, message, secretKey string) models.WorkflowResult {
	return o.failOutcome(ctx, r, models.StepOutcome{
		Status: models.StepFailed,
		Error: &models.ErrorDetail{
			Step:      step,
			Kind:      string(kind),
			Message:   message,
			SecretKey: secretKey,
		},
	})
}

func (o *Orchestrator) failOutcome(ctx context.Context, r *run, outcome models.StepOutcome) models.WorkflowResult {
	logger := zerolog.Ctx(ctx)
	o.transition(ctx, r, StateFailed)

	detail := outcome.Error
	if detail == nil {
		detail = &models.ErrorDetail{Kind: string(apperrors.KindInternal), Message: "step failed without detail"}
	}

	logger.Error().
		Str("step", detail.Step).
		Str("kind", detail.Kind).
		Str("secret_key", detail.SecretKey).
		Msg(detail.Message)

	if o.runs != nil {
		msg := fmt.Sprintf("step=%s kind=%s: %s", detail.Step, detail.Kind, detail.Message)
		if err := o.runs.Fail(ctx, r.pk, r.id, msg, r.actions); err != nil {
			logger.Error().Err(err).Msg("Failed to record run failure")
		}
	}

	return models.WorkflowResult{
		RunID:            r.id,
		Status:           models.WorkflowFailed,
		CompletedActions: r.actions,
		Error:            detail,
	}
}
