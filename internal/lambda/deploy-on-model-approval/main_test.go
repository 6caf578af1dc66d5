package main

import (
	"encoding/json"
	"testing"
)

func TestParseApprovalDetail(t *testing.T) {
	tests := []struct {
		name       string
		detail     string
		wantGroup  string
		wantStatus string
		wantErr    bool
	}{
		{
			name:       "approved package",
			detail:     `{"ModelPackageGroupName":"p-123-models","ModelPackageName":"p-123-models/3","ModelPackageArn":"arn:aws:sagemaker:us-east-1:111122223333:model-package/p-123-models/3","ModelApprovalStatus":"Approved"}`,
			wantGroup:  "p-123-models",
			wantStatus: "Approved",
		},
		{
			name:       "rejected package still parses",
			detail:     `{"ModelPackageGroupName":"p-123-models","ModelApprovalStatus":"Rejected"}`,
			wantGroup:  "p-123-models",
			wantStatus: "Rejected",
		},
		{
			name:    "missing group name",
			detail:  `{"ModelApprovalStatus":"Approved"}`,
			wantErr: true,
		},
		{
			name:    "invalid json",
			detail:  `not json`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := parseApprovalDetail(json.RawMessage(tt.detail))
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseApprovalDetail() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if event.ModelPackageGroupName != tt.wantGroup {
				t.Errorf("ModelPackageGroupName = %q, want %q", event.ModelPackageGroupName, tt.wantGroup)
			}
			if event.ApprovalStatus != tt.wantStatus {
				t.Errorf("ApprovalStatus = %q, want %q", event.ApprovalStatus, tt.wantStatus)
			}
			if tt.wantStatus == "Approved" && !event.Approved() {
				t.Error("Approved() = false, want true")
			}
		})
	}
}
