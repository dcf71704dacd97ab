// Package copilot turns free-text requests into confirmable action plans and
// executes confirmed plans against the engine.
package copilot

import (
	"regexp"
	"strings"

	"plcgate/internal/domain"
)

type Intent string

const (
	IntentCreateIssue             Intent = "create_issue"
	IntentUpdateIssue             Intent = "update_issue"
	IntentAssignIssue             Intent = "assign_issue"
	IntentTransitionIssue         Intent = "transition_issue"
	IntentSummarizeIssue          Intent = "summarize_issue"
	IntentGenerateLaunchChecklist Intent = "generate_launch_checklist"
	IntentGenerateDecisionMemo    Intent = "generate_decision_memo"
)

// Context is what the caller already knows about the conversation.
type Context struct {
	ProjectKey string `json:"projectKey,omitempty"`
	IssueKey   string `json:"issueKey,omitempty"`
}

// Params are the values extracted alongside an intent. Only TargetStage is
// read from the message body; keys come from Context.
type Params struct {
	Message     string
	IssueKey    string
	ProjectKey  string
	TargetStage string
}

type rule struct {
	intent   Intent
	patterns []*regexp.Regexp
}

// rules are evaluated in order; the first match wins.
var rules = []rule{
	{IntentCreateIssue, []*regexp.Regexp{
		regexp.MustCompile(`\b(create|add|new)\s+(issue|ticket|story|task|bug|epic)\b`),
	}},
	{IntentUpdateIssue, []*regexp.Regexp{
		regexp.MustCompile(`\b(update|edit|change)\s+(issue|ticket)\b`),
		regexp.MustCompile(`\b(update|edit|change)\s+(\w+-\d+)\b`),
	}},
	{IntentAssignIssue, []*regexp.Regexp{
		regexp.MustCompile(`\bassign\b`),
	}},
	{IntentTransitionIssue, []*regexp.Regexp{
		regexp.MustCompile(`\b(move|transition|advance|promote)\s+(to\s+)?(introduction|growth|maturity|decline|new development)\b`),
	}},
	{IntentSummarizeIssue, []*regexp.Regexp{
		regexp.MustCompile(`\b(summarize|summary|summarise)\b`),
	}},
	{IntentGenerateLaunchChecklist, []*regexp.Regexp{
		regexp.MustCompile(`\b(launch\s+checklist|generate\s+launch)\b`),
	}},
	{IntentGenerateDecisionMemo, []*regexp.Regexp{
		regexp.MustCompile(`\b(decision\s+memo|generate\s+decision\s+memo)\b`),
	}},
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Classify maps message to an intent. Unmatched messages fall back to
// summarize_issue.
func Classify(message string, c Context) (Intent, Params) {
	msg := normalize(message)
	params := Params{
		Message:    message,
		IssueKey:   strings.TrimSpace(c.IssueKey),
		ProjectKey: strings.TrimSpace(c.ProjectKey),
	}
	for _, r := range rules {
		if !matchesAny(r.patterns, msg) {
			continue
		}
		if r.intent == IntentTransitionIssue {
			params.TargetStage = targetStage(msg)
		}
		return r.intent, params
	}
	return IntentSummarizeIssue, params
}

func matchesAny(patterns []*regexp.Regexp, msg string) bool {
	for _, re := range patterns {
		if re.MatchString(msg) {
			return true
		}
	}
	return false
}

// targetStage returns the first stage name, in lifecycle order, that occurs
// anywhere in msg.
func targetStage(msg string) string {
	for _, st := range domain.Stages {
		name := strings.ToLower(string(st))
		if strings.Contains(msg, name) {
			return name
		}
	}
	return strings.ToLower(string(domain.StageIntroduction))
}
