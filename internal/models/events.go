package models

import "strings"

// ProjectCreatedEvent is the normalized form of the EventBridge event emitted
// when a DataZone project is created.
type ProjectCreatedEvent struct {
	DomainID    string `json:"domainId"`
	ProjectID   string `json:"projectId"`
	ProfileID   string `json:"projectProfileId,omitempty"`
	ProfileName string `json:"profileName,omitempty"`
	BuildRepo   string `json:"buildRepo,omitempty"` // owner/name, from the event's git parameters
}

// ModelApprovalEvent is the normalized form of the SageMaker model package
// state-change event. Only ApprovalStatusApproved triggers the deploy path.
type ModelApprovalEvent struct {
	ProjectID             string `json:"projectId,omitempty"`
	ModelPackageGroupName string `json:"modelPackageGroupName"`
	ModelPackageName      string `json:"modelPackageName,omitempty"`
	ModelPackageArn       string `json:"modelPackageArn,omitempty"`
	ApprovalStatus        string `json:"approvalStatus"`
}

// ApprovalStatusApproved is the only ModelApprovalStatus value acted upon.
const ApprovalStatusApproved = "Approved"

// Approved reports whether the event should trigger the deploy workflow.
func (e ModelApprovalEvent) Approved() bool {
	return e.ApprovalStatus == ApprovalStatusApproved
}

// DerivedProjectID returns the project ID, deriving it from the model package
// group name ({projectID}-models) when the event does not carry it.
func (e ModelApprovalEvent) DerivedProjectID() string {
	if e.ProjectID != "" {
		return e.ProjectID
	}
	return strings.TrimSuffix(e.ModelPackageGroupName, "-models")
}
