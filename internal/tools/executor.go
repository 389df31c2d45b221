package tools

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/aeon/internal/providers"
)

const defaultMaxExecutionSeconds = 30
const defaultMaxResultChars = 4000

// Executor runs a tool call against the registry after consulting the
// policy engine, bounding execution with a timeout, truncating results, and
// auditing calls to Postgres: every call when logAllCalls is set, otherwise
// only failed ones.
type Executor struct {
	registry            *Registry
	policy              *PolicyEngine
	db                  *sql.DB
	maxExecutionSeconds int
	maxResultChars      int
	logAllCalls         bool
}

func NewExecutor(registry *Registry, policy *PolicyEngine, db *sql.DB, maxExecutionSeconds, maxResultChars int, logAllCalls bool) *Executor {
	if maxExecutionSeconds <= 0 {
		maxExecutionSeconds = defaultMaxExecutionSeconds
	}
	if maxResultChars <= 0 {
		maxResultChars = defaultMaxResultChars
	}
	return &Executor{
		registry:            registry,
		policy:              policy,
		db:                  db,
		maxExecutionSeconds: maxExecutionSeconds,
		maxResultChars:      maxResultChars,
		logAllCalls:         logAllCalls,
	}
}

// Execute evaluates policy, runs the tool under a deadline, truncates the
// result, and records an audit row. It never panics: every failure path
// (blocked, approval-required, missing tool, timeout) returns a Result
// suitable for feeding straight back to the LLM.
func (e *Executor) Execute(ctx context.Context, call providers.ToolCall) *Result {
	started := time.Now()
	decision := e.policy.Evaluate(call.Name)

	var result *Result
	switch decision {
	case DecisionBlock:
		result = ErrorResult(fmt.Sprintf("Error: Tool '%s' is blocked by policy", call.Name))
	case DecisionApprove:
		result = ErrorResult(fmt.Sprintf("[TOOL_BLOCKED: tool '%s' requires approval before it can run]", call.Name))
	default:
		result = e.run(ctx, call)
	}

	result.ForLLM = truncate(result.ForLLM, e.maxResultChars)
	e.audit(ctx, call, decision, result, time.Since(started))
	return result
}

func (e *Executor) run(ctx context.Context, call providers.ToolCall) *Result {
	tool, ok := e.registry.Get(call.Name)
	if !ok {
		return ErrorResult(fmt.Sprintf("Error: Tool '%s' is unknown", call.Name))
	}

	timeout := time.Duration(e.maxExecutionSeconds) * time.Second
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type runOutcome struct {
		result *Result
	}
	done := make(chan runOutcome, 1)
	go func() {
		done <- runOutcome{result: tool.Execute(runCtx, call.Arguments)}
	}()

	select {
	case outcome := <-done:
		if outcome.result == nil {
			return ErrorResult(fmt.Sprintf("Error: Tool '%s' returned no result", call.Name))
		}
		return outcome.result
	case <-runCtx.Done():
		return ErrorResult(fmt.Sprintf("Error: Tool '%s' timed out after %ds", call.Name, e.maxExecutionSeconds))
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + fmt.Sprintf("\n... [truncated, %d chars total]", len(s))
}

func (e *Executor) audit(ctx context.Context, call providers.ToolCall, decision Decision, result *Result, latency time.Duration) {
	if e.db == nil {
		return
	}
	if !e.logAllCalls && !result.IsError {
		return
	}

	argsJSON, err := json.Marshal(call.Arguments)
	if err != nil {
		argsJSON = []byte("{}")
	}

	errMsg := ""
	if result.Err != nil {
		errMsg = result.Err.Error()
	}

	_, err = e.db.ExecContext(ctx,
		`INSERT INTO tool_call_audit (id, tool_name, arguments_json, result, decision, success, latency_ms, error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())`,
		uuid.New(), call.Name, string(argsJSON), result.ForLLM, string(decision), !result.IsError, latency.Milliseconds(), nullIfEmpty(errMsg),
	)
	if err != nil {
		slog.Warn("tools: audit insert failed", "tool", call.Name, "error", err)
	}
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
