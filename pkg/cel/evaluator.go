// Package cel evaluates declarative validation rules against events.
package cel

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/cel-go/cel"

	"eventpipe/pkg/models"
)

type Evaluator struct {
	env *cel.Env
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("eventId", cel.StringType),
		cel.Variable("service", cel.StringType),
		cel.Variable("message", cel.StringType),
		cel.Variable("timestamp", cel.TimestampType),
		cel.Variable("retryCount", cel.IntType),
		cel.Variable("metadata", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

func (e *Evaluator) ValidateExpression(expression string) error {
	_, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}
	return nil
}

// ValidateRule checks that expression compiles and yields a bool.
func (e *Evaluator) ValidateRule(expression string) error {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return fmt.Errorf("rule must return bool, got %v", ast.OutputType())
	}

	return nil
}

type rule struct {
	expression string
	program    cel.Program
}

// RuleSet is a list of compiled rules. Safe for concurrent use.
type RuleSet struct {
	rules []rule
}

// Compile validates and builds a program for every expression.
func (e *Evaluator) Compile(expressions []string) (*RuleSet, error) {
	rs := &RuleSet{rules: make([]rule, 0, len(expressions))}

	for _, expr := range expressions {
		if err := e.ValidateRule(expr); err != nil {
			return nil, fmt.Errorf("rule %q: %w", expr, err)
		}

		ast, _ := e.env.Compile(expr)
		program, err := e.env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("failed to create CEL program for %q: %w", expr, err)
		}
		rs.rules = append(rs.rules, rule{expression: expr, program: program})
	}

	return rs, nil
}

func (rs *RuleSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.rules)
}

// Check evaluates the rules in order and returns the first expression that
// did not hold, or "" when all of them did.
func (rs *RuleSet) Check(ctx context.Context, ev models.EnrichedEvent) (string, error) {
	if rs.Len() == 0 {
		return "", nil
	}

	vars, err := eventVars(ev)
	if err != nil {
		return "", err
	}

	for _, r := range rs.rules {
		result, _, err := r.program.ContextEval(ctx, vars)
		if err != nil {
			return r.expression, fmt.Errorf("failed to evaluate CEL expression: %w", err)
		}

		ok, isBool := result.Value().(bool)
		if !isBool {
			return r.expression, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
		}
		if !ok {
			return r.expression, nil
		}
	}

	return "", nil
}

func eventVars(ev models.EnrichedEvent) (map[string]interface{}, error) {
	ts, err := models.ParseTimestamp(ev.Timestamp)
	if err != nil {
		return nil, err
	}

	metadata := map[string]interface{}{}
	if len(ev.Metadata) > 0 && string(ev.Metadata) != "null" {
		if err := json.Unmarshal(ev.Metadata, &metadata); err != nil {
			return nil, fmt.Errorf("metadata is not a JSON object: %w", err)
		}
	}

	return map[string]interface{}{
		"eventId":    ev.EventID,
		"service":    ev.Service,
		"message":    ev.Message,
		"timestamp":  ts,
		"retryCount": ev.RetryCount,
		"metadata":   metadata,
	}, nil
}
