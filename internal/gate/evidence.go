package gate

import "plcgate/internal/domain"

// Approvals returns the approvals recorded for one artifact.
type Approvals func(artifactID int64) ([]domain.Approval, error)

// CollectEvidence folds an issue's artifacts and their approvals into the
// snapshot Check consumes.
func CollectEvidence(artifacts []domain.Artifact, approvals Approvals) (Evidence, error) {
	var ev Evidence
	for _, a := range artifacts {
		if a.Kind == domain.ArtifactLaunchChecklist {
			ev.AnyLaunchChecklist = true
		}
		switch a.Kind {
		case domain.ArtifactLaunchChecklist:
			if ev.ApprovedLaunchChecklist {
				continue
			}
		case domain.ArtifactDecisionMemo:
			if ev.ApprovedDecisionMemo {
				continue
			}
		default:
			continue
		}
		aps, err := approvals(a.ID)
		if err != nil {
			return Evidence{}, err
		}
		if !hasApproved(aps) {
			continue
		}
		if a.Kind == domain.ArtifactLaunchChecklist {
			ev.ApprovedLaunchChecklist = true
		} else {
			ev.ApprovedDecisionMemo = true
		}
	}
	return ev, nil
}

func hasApproved(aps []domain.Approval) bool {
	for _, ap := range aps {
		if ap.Status == domain.ApprovalApproved {
			return true
		}
	}
	return false
}
