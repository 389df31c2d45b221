package tools

import (
	"strings"

	"github.com/nextlevelbuilder/aeon/internal/config"
)

// Decision is the policy engine's verdict for one tool call.
type Decision string

const (
	// DecisionAllow means the call may proceed immediately.
	DecisionAllow Decision = "allow"
	// DecisionBlock means the call must be refused outright.
	DecisionBlock Decision = "block"
	// DecisionApprove means the call may proceed only after explicit
	// owner approval.
	DecisionApprove Decision = "approve"
)

// PolicyEngine evaluates tool calls against the configured block/allow/
// approval lists in a fixed order: block-list first, then allow-list, then
// approval-required, then the configured default mode. Matching is
// case-insensitive; a pattern ending in "*" matches by prefix, otherwise the
// tool name must match exactly.
type PolicyEngine struct {
	cfg config.ToolSecurityConfig
}

func NewPolicyEngine(cfg config.ToolSecurityConfig) *PolicyEngine {
	return &PolicyEngine{cfg: cfg}
}

// Evaluate returns the decision for toolName under the current policy.
func (p *PolicyEngine) Evaluate(toolName string) Decision {
	name := strings.ToLower(toolName)

	if matchesAny(name, p.cfg.BlockList) {
		return DecisionBlock
	}
	if matchesAny(name, p.cfg.AllowList) {
		return DecisionAllow
	}
	if matchesAny(name, p.cfg.ApprovalRequired) {
		return DecisionApprove
	}

	switch strings.ToLower(strings.TrimSpace(p.cfg.DefaultMode)) {
	case "block", "deny":
		return DecisionBlock
	case "approve":
		return DecisionApprove
	default:
		return DecisionAllow
	}
}

func matchesAny(name string, patterns []string) bool {
	for _, pattern := range patterns {
		if matches(name, pattern) {
			return true
		}
	}
	return false
}

func matches(name, pattern string) bool {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if pattern == "" {
		return false
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(name, strings.TrimSuffix(pattern, "*"))
	}
	return name == pattern
}
