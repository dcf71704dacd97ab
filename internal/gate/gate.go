// Package gate decides whether an issue may move between PLC stages.
//
// Check is pure: callers load the evidence snapshot from the store, call
// Check, and apply the stage change and audit row themselves.
package gate

import (
	"fmt"

	"plcgate/internal/domain"
)

// Config holds the tunable gate thresholds.
type Config struct {
	MinEvidenceLinks int
}

// DefaultConfig matches the built-in plcgate.yml.
func DefaultConfig() Config {
	return Config{MinEvidenceLinks: 3}
}

// Evidence is the store state a gate decision is evaluated against.
type Evidence struct {
	ApprovedLaunchChecklist bool
	AnyLaunchChecklist      bool
	ApprovedDecisionMemo    bool
}

// Decision is the gate outcome. Blocked is a normal result, not an error.
type Decision struct {
	Allowed bool                        `json:"allowed"`
	Missing []domain.MissingRequirement `json:"missing_requirements"`
}

type Engine struct {
	cfg Config
}

func New(cfg Config) Engine {
	if cfg.MinEvidenceLinks < 1 {
		cfg.MinEvidenceLinks = DefaultConfig().MinEvidenceLinks
	}
	return Engine{cfg: cfg}
}

// edge describes the evidence attached to one defined transition.
type edge struct {
	satisfied     bool
	message       string
	allowOverride bool
}

// Check evaluates moving issue to target. target is parsed case-insensitively.
// An admin with a non-empty overrideReason bypasses edges that permit it, and
// the returned missing list is then empty.
func (e Engine) Check(issue domain.Issue, target string, ev Evidence, overrideReason string, isAdmin bool) Decision {
	to, ok := domain.ParseStage(target)
	if !ok {
		return blocked(domain.RequirementData, fmt.Sprintf("Unknown stage: %s", target))
	}
	from := issue.PLCStage
	if !from.Valid() {
		return blocked(domain.RequirementData, fmt.Sprintf("Unknown stage: %s", from))
	}

	ed, defined := e.edge(from, to, issue, ev)
	if !defined {
		if abs(to.Order()-from.Order()) == 1 {
			return allowed()
		}
		return blocked(domain.RequirementData, "Can only transition to adjacent stage.")
	}
	if ed.satisfied {
		return allowed()
	}
	if ed.allowOverride && isAdmin && overrideReason != "" {
		return allowed()
	}
	return blocked(domain.RequirementStageGate, ed.message)
}

func (e Engine) edge(from, to domain.Stage, issue domain.Issue, ev Evidence) (edge, bool) {
	switch from {
	case domain.StageIntroduction:
		if to == domain.StageGrowth {
			return edge{
				satisfied:     ev.ApprovedLaunchChecklist,
				message:       "Introduction → Growth requires an approved Launch Checklist artifact.",
				allowOverride: true,
			}, true
		}
	case domain.StageGrowth:
		if to == domain.StageMaturity {
			return edge{
				satisfied:     len(issue.EvidenceLinks) >= e.cfg.MinEvidenceLinks,
				message:       fmt.Sprintf("Growth → Maturity requires at least %d evidence links.", e.cfg.MinEvidenceLinks),
				allowOverride: true,
			}, true
		}
	case domain.StageMaturity:
		if to == domain.StageDecline {
			return edge{
				satisfied:     ev.ApprovedDecisionMemo,
				message:       "Maturity → Decline requires an approved Decision Memo.",
				allowOverride: true,
			}, true
		}
	case domain.StageDecline:
		if to == domain.StageNewDevelopment {
			return edge{
				satisfied: ev.ApprovedDecisionMemo,
				message:   "Decline → New Development requires an approved Decision Memo.",
			}, true
		}
	case domain.StageNewDevelopment:
		if to == domain.StageIntroduction {
			return edge{
				satisfied: ev.AnyLaunchChecklist,
				message:   "New Development → Introduction requires a Launch Checklist (at least in draft).",
			}, true
		}
	default:
		panic(fmt.Sprintf("gate: unhandled stage %q", from))
	}
	return edge{}, false
}

func allowed() Decision {
	return Decision{Allowed: true, Missing: []domain.MissingRequirement{}}
}

func blocked(typ, msg string) Decision {
	return Decision{Allowed: false, Missing: []domain.MissingRequirement{{Type: typ, Message: msg}}}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
