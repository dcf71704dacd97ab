package domain

import (
	"fmt"
	"strings"
)

// Stage is a product-lifecycle stage. The order of the constants is the
// lifecycle order used for adjacency checks.
type Stage string

const (
	StageIntroduction   Stage = "Introduction"
	StageGrowth         Stage = "Growth"
	StageMaturity       Stage = "Maturity"
	StageDecline        Stage = "Decline"
	StageNewDevelopment Stage = "New Development"
)

// Stages lists every stage in lifecycle order.
var Stages = []Stage{
	StageIntroduction,
	StageGrowth,
	StageMaturity,
	StageDecline,
	StageNewDevelopment,
}

// Order returns the position of s in the lifecycle, or -1.
func (s Stage) Order() int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

func (s Stage) Valid() bool { return s.Order() >= 0 }

// ParseStage accepts stage names case-insensitively, with spaces or underscores.
func ParseStage(v string) (Stage, bool) {
	norm := strings.ToLower(strings.Join(strings.Fields(strings.ReplaceAll(v, "_", " ")), " "))
	for _, st := range Stages {
		if strings.ToLower(string(st)) == norm {
			return st, true
		}
	}
	return "", false
}

type Role string

const (
	RoleAdmin  Role = "admin"
	RolePM     Role = "pm"
	RoleViewer Role = "viewer"
)

func ParseRole(v string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(v))); r {
	case RoleAdmin, RolePM, RoleViewer:
		return r, nil
	}
	return "", fmt.Errorf("invalid role %q", v)
}

type IssueType string

const (
	IssueEpic       IssueType = "Epic"
	IssueStory      IssueType = "Story"
	IssueTask       IssueType = "Task"
	IssueBug        IssueType = "Bug"
	IssueDecision   IssueType = "Decision"
	IssueRisk       IssueType = "Risk"
	IssueExperiment IssueType = "Experiment"
)

var issueTypes = []IssueType{IssueEpic, IssueStory, IssueTask, IssueBug, IssueDecision, IssueRisk, IssueExperiment}

func ParseIssueType(v string) (IssueType, error) {
	for _, t := range issueTypes {
		if strings.EqualFold(string(t), strings.TrimSpace(v)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("invalid issue type %q", v)
}

type IssueStatus string

const (
	StatusOpen       IssueStatus = "open"
	StatusInProgress IssueStatus = "in_progress"
	StatusDone       IssueStatus = "done"
)

func ParseIssueStatus(v string) (IssueStatus, error) {
	switch s := IssueStatus(strings.ToLower(strings.TrimSpace(v))); s {
	case StatusOpen, StatusInProgress, StatusDone:
		return s, nil
	}
	return "", fmt.Errorf("invalid issue status %q", v)
}

type Priority string

const (
	PriorityP0 Priority = "P0"
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
)

func ParsePriority(v string) (Priority, error) {
	switch p := Priority(strings.ToUpper(strings.TrimSpace(v))); p {
	case PriorityP0, PriorityP1, PriorityP2, PriorityP3:
		return p, nil
	}
	return "", fmt.Errorf("invalid priority %q", v)
}

type RegulatoryLevel string

const (
	RegulatoryLow  RegulatoryLevel = "low"
	RegulatoryMed  RegulatoryLevel = "med"
	RegulatoryHigh RegulatoryLevel = "high"
)

func ParseRegulatoryLevel(v string) (RegulatoryLevel, error) {
	switch l := RegulatoryLevel(strings.ToLower(strings.TrimSpace(v))); l {
	case RegulatoryLow, RegulatoryMed, RegulatoryHigh:
		return l, nil
	}
	return "", fmt.Errorf("invalid regulatory impact %q", v)
}

type ArtifactKind string

const (
	ArtifactLaunchChecklist ArtifactKind = "launch_checklist"
	ArtifactDecisionMemo    ArtifactKind = "decision_memo"
)

func ParseArtifactKind(v string) (ArtifactKind, error) {
	switch k := ArtifactKind(strings.ToLower(strings.TrimSpace(v))); k {
	case ArtifactLaunchChecklist, ArtifactDecisionMemo:
		return k, nil
	}
	return "", fmt.Errorf("invalid artifact kind %q", v)
}

// Title is the default human title, e.g. "Launch Checklist".
func (k ArtifactKind) Title() string {
	switch k {
	case ArtifactLaunchChecklist:
		return "Launch Checklist"
	case ArtifactDecisionMemo:
		return "Decision Memo"
	}
	return string(k)
}

type ArtifactStatus string

const (
	ArtifactDraft     ArtifactStatus = "draft"
	ArtifactInReview  ArtifactStatus = "in_review"
	ArtifactApproved  ArtifactStatus = "approved"
	ArtifactPublished ArtifactStatus = "published"
)

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)
