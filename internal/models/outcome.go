package models

// StepStatus is the terminal status of one provisioning step.
type StepStatus string

const (
	StepSucceeded          StepStatus = "Succeeded"
	StepFailed             StepStatus = "Failed"
	StepPartiallyCompleted StepStatus = "PartiallyCompleted"
	StepPending            StepStatus = "Pending" // retry after delay, not a failure
)

// ErrorDetail is the normalized failure surfaced with a Failed outcome.
// SecretKey names an offending secret key, never its value.
type ErrorDetail struct {
	Step      string `json:"step"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	SecretKey string `json:"secret_key,omitempty"`
}

// StepOutcome reports the result of one idempotent provisioning step.
// CompletedActions records which sub-operations (repo create, file copy,
// each secret write) finished, so a retry skips work already done.
type StepOutcome struct {
	Status           StepStatus   `json:"status"`
	CompletedActions []string     `json:"completed_actions,omitempty"`
	Error            *ErrorDetail `json:"error,omitempty"`
}

// Succeeded reports whether the step finished completely.
func (o StepOutcome) Succeeded() bool { return o.Status == StepSucceeded }

// WorkflowStatus is the terminal status of an orchestrator run.
type WorkflowStatus string

const (
	WorkflowCompleted WorkflowStatus = "Completed"
	WorkflowFailed    WorkflowStatus = "Failed"
)

// WorkflowResult is the structured outcome surfaced to the invoking layer.
type WorkflowResult struct {
	RunID            string         `json:"run_id"`
	Status           WorkflowStatus `json:"status"`
	CompletedActions []string       `json:"completed_actions,omitempty"`
	Error            *ErrorDetail   `json:"error,omitempty"`
}
