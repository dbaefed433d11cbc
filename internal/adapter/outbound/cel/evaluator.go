// Package cel compiles the "cel" match conditions of policy rules.
package cel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/agentshield/agentshield/internal/domain/policy"
)

// maxExpressionLength is the maximum allowed length for a condition.
const maxExpressionLength = 1024

// maxCostBudget is the CEL runtime cost limit per evaluation.
const maxCostBudget = 100_000

// maxNestingDepth is the maximum allowed parenthesis/bracket nesting depth.
const maxNestingDepth = 50

// evalTimeout is the maximum time allowed for a single evaluation.
const evalTimeout = time.Second

// interruptCheckFreq is how often (in comprehension iterations) cancellation is checked.
const interruptCheckFreq = 100

// ErrInvalidExpression is returned for conditions that fail the safety
// limits, do not compile, or are not boolean.
var ErrInvalidExpression = errors.New("invalid condition expression")

// Compiler turns condition source into programs bound to one environment.
// It is safe for concurrent use.
type Compiler struct {
	env *cel.Env
}

var _ policy.ConditionCompiler = (*Compiler)(nil)

// NewCompiler creates a Compiler over NewConditionEnvironment.
func NewCompiler() (*Compiler, error) {
	env, err := NewConditionEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create condition environment: %w", err)
	}
	return &Compiler{env: env}, nil
}

// Compile validates, type-checks, and plans expression.
func (c *Compiler) Compile(expression string) (policy.Condition, error) {
	if err := validate(expression); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}

	ast, issues := c.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: compilation failed: %v", ErrInvalidExpression, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("%w: expression must return bool, got %s", ErrInvalidExpression, ast.OutputType())
	}

	prg, err := c.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation failed: %w", err)
	}
	return &condition{source: expression, prg: prg}, nil
}

func validate(expr string) error {
	if expr == "" {
		return errors.New("expression is empty")
	}
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}
	return validateNesting(expr)
}

// validateNesting checks that the expression does not exceed the maximum
// nesting depth for parentheses, brackets, and braces.
func validateNesting(expr string) error {
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("expression nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}

type condition struct {
	source string
	prg    cel.Program
}

// Eval runs the program against mc under evalTimeout.
func (c *condition) Eval(mc policy.MatchContext) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()

	result, _, err := c.prg.ContextEval(ctx, activation(mc))
	if err != nil {
		return false, fmt.Errorf("evaluation of %q failed: %w", c.source, err)
	}
	b, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression did not return a boolean, got %T", result.Value())
	}
	return b, nil
}
