package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const (
	defaultRuleName   = "unnamed"
	defaultPolicyName = "unknown"
)

// Document is a parsed policy document.
type Document struct {
	Rules []Rule
}

type documentJSON struct {
	Rules []ruleJSON `json:"rules"`
}

type ruleJSON struct {
	Name   *string   `json:"name"`
	Effect string    `json:"effect"`
	Reason string    `json:"reason"`
	Match  matchJSON `json:"match"`
}

type matchJSON struct {
	Equals map[string]any    `json:"equals"`
	In     map[string][]any  `json:"in"`
	Glob   map[string]string `json:"glob"`
	CEL    string            `json:"cel"`
}

// ParseDocument parses a JSON policy document of the form
//
//	{"rules": [{"name", "effect", "reason", "match": {"equals", "in", "glob", "cel"}}]}
//
// Clauses are checked in the order equals, in, glob, cel. The effect defaults
// to ALLOW. A "cel" clause requires a non-nil compiler.
func ParseDocument(data []byte, compiler ConditionCompiler) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw documentJSON
	if err := dec.Decode(&raw); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	doc := Document{Rules: make([]Rule, 0, len(raw.Rules))}
	for i, rr := range raw.Rules {
		rule, err := parseRule(rr, compiler)
		if err != nil {
			return Document{}, fmt.Errorf("%w: rules[%d]: %v", ErrInvalidDocument, i, err)
		}
		doc.Rules = append(doc.Rules, rule)
	}
	return doc, nil
}

func parseRule(rr ruleJSON, compiler ConditionCompiler) (Rule, error) {
	r := Rule{
		Name:   defaultRuleName,
		Effect: EffectAllow,
		Reason: rr.Reason,
	}
	if rr.Name != nil {
		r.Name = *rr.Name
	}
	if rr.Effect != "" {
		r.Effect = Effect(rr.Effect)
		if !r.Effect.Valid() {
			return Rule{}, fmt.Errorf("unknown effect %q", rr.Effect)
		}
	}

	m := rr.Match
	if len(m.Equals) > 0 {
		eq := make(Equals, len(m.Equals))
		for _, k := range sortedKeys(m.Equals) {
			v, err := ValueOf(m.Equals[k])
			if err != nil {
				return Rule{}, fmt.Errorf("equals.%s: %v", k, err)
			}
			eq[k] = v
		}
		r.Match.Clauses = append(r.Match.Clauses, eq)
	}
	if len(m.In) > 0 {
		in := make(In, len(m.In))
		for _, k := range sortedKeys(m.In) {
			opts := make([]Value, 0, len(m.In[k]))
			for j, x := range m.In[k] {
				v, err := ValueOf(x)
				if err != nil {
					return Rule{}, fmt.Errorf("in.%s[%d]: %v", k, j, err)
				}
				opts = append(opts, v)
			}
			in[k] = opts
		}
		r.Match.Clauses = append(r.Match.Clauses, in)
	}
	if len(m.Glob) > 0 {
		g := make(Glob, len(m.Glob))
		for _, k := range sortedKeys(m.Glob) {
			p, err := CompileGlob(m.Glob[k])
			if err != nil {
				return Rule{}, fmt.Errorf("glob.%s: %v", k, err)
			}
			g[k] = p
		}
		r.Match.Clauses = append(r.Match.Clauses, g)
	}
	if m.CEL != "" {
		if compiler == nil {
			return Rule{}, fmt.Errorf("cel conditions are not enabled")
		}
		cond, err := compiler.Compile(m.CEL)
		if err != nil {
			return Rule{}, fmt.Errorf("cel: %v", err)
		}
		r.Match.Clauses = append(r.Match.Clauses, Expr{Source: m.CEL, Cond: cond})
	}
	return r, nil
}

// Compile parses a stored record into an evaluable Policy.
func Compile(rec Record, compiler ConditionCompiler) (Policy, error) {
	doc, err := ParseDocument(rec.DSL, compiler)
	if err != nil {
		return Policy{}, fmt.Errorf("policy %s: %w", rec.Name, err)
	}
	return Policy{Name: rec.Name, Enabled: rec.Enabled, Rules: doc.Rules}, nil
}

// StarterPolicyName is the name the starter document is installed under.
const StarterPolicyName = "starter"

// StarterDocument blocks access-key operations on identity services and routes
// other identity-service calls and code-executing tools to human approval.
var StarterDocument = []byte(`{
  "rules": [
    {
      "name": "deny-dangerous-iam",
      "effect": "DENY",
      "reason": "Dangerous IAM operation",
      "match": {
        "equals": {"action_type": "aws_api"},
        "in": {"aws_service": ["iam", "organizations", "sso", "sts"]},
        "glob": {"aws_operation": "*AccessKey*"}
      }
    },
    {
      "name": "require-approval-iam-core",
      "effect": "REQUIRE_APPROVAL",
      "reason": "IAM change requires approval",
      "match": {
        "equals": {"action_type": "aws_api"},
        "in": {"aws_service": ["iam", "organizations", "sso", "sts"]}
      }
    },
    {
      "name": "require-approval-sensitive-tools",
      "effect": "REQUIRE_APPROVAL",
      "reason": "Sensitive tool requires approval",
      "match": {
        "equals": {"action_type": "tool_call"},
        "in": {"tool_name": ["shell", "bash", "terminal", "python_repl", "codegen", "sql"]}
      }
    }
  ]
}`)
