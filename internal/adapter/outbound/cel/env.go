package cel

import (
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"

	"github.com/agentshield/agentshield/internal/domain/policy"
)

// stringKeys are the match-context keys exposed as CEL string variables.
// Absent values are bound to "".
var stringKeys = []string{
	policy.KeyActionType,
	policy.KeyActor,
	policy.KeyAgent,
	policy.KeyToolName,
	policy.KeyAWSService,
	policy.KeyAWSOperation,
	policy.KeyDefaultDecision,
}

// NewConditionEnvironment creates the CEL environment policy conditions are
// checked against. Besides one variable per match-context key it declares:
//   - action: map of only the keys that are present, for has(action.actor)
//   - glob(pattern, s): the same wildcard matching as "glob" clauses
func NewConditionEnvironment() (*cel.Env, error) {
	opts := []cel.EnvOption{
		ext.Strings(),
		ext.Sets(),
		cel.Variable(policy.KeyRiskScore, cel.IntType),
		cel.Variable("action", cel.MapType(cel.StringType, cel.DynType)),
		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, s ref.Val) ref.Val {
					p, ok := pattern.Value().(string)
					if !ok {
						return types.Bool(false)
					}
					str, ok := s.Value().(string)
					if !ok {
						return types.Bool(false)
					}
					compiled, err := policy.CompileGlob(p)
					if err != nil {
						return types.NewErr("glob: %v", err)
					}
					return types.Bool(compiled.Match(str))
				}),
			),
		),
	}
	for _, key := range stringKeys {
		opts = append(opts, cel.Variable(key, cel.StringType))
	}
	return cel.NewEnv(opts...)
}

// activation binds a match context to the environment's variables.
func activation(mc policy.MatchContext) map[string]any {
	vars := make(map[string]any, len(stringKeys)+2)
	for _, key := range stringKeys {
		vars[key] = mc.Get(key).Text()
	}

	var score int64
	if v := mc.Get(policy.KeyRiskScore); v.Kind() == policy.KindNumber {
		if n, ok := v.Interface().(float64); ok {
			score = int64(n)
		}
	}
	vars[policy.KeyRiskScore] = score

	present := make(map[string]any, len(mc))
	for k, v := range mc {
		if !v.IsNull() {
			present[k] = v.Interface()
		}
	}
	vars["action"] = present
	return vars
}
