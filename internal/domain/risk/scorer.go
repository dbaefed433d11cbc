// Package risk computes a heuristic risk score for a proposed agent action.
//
// The score is a sum of fixed contributions, clamped to [0, 100], together
// with the ordered list of signals that contributed to it.
package risk

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// MaxScore is the upper clamp for Score results.
const MaxScore = 100

// Score contributions.
const (
	weightHighValueService   = 30
	weightDangerousOperation = 40
	weightWildcard           = 15
	weightSensitiveTool      = 25
	weightDangerousPattern   = 40
	weightSecretMaterial     = 50

	patternSignalMaxChars = 30
)

// Payload is the action-specific content the scorer inspects.
// Fields that do not apply to the action type are ignored.
type Payload struct {
	ToolName     string
	ToolArgs     map[string]any
	AWSService   string
	AWSOperation string
	Params       map[string]any
}

var highValueServices = map[string]struct{}{
	"iam":           {},
	"organizations": {},
	"sso":           {},
	"sts":           {},
}

var dangerousOperations = map[string]struct{}{
	"CreateAccessKey":         {},
	"PutUserPolicy":           {},
	"PutRolePolicy":           {},
	"AttachUserPolicy":        {},
	"AttachRolePolicy":        {},
	"CreatePolicyVersion":     {},
	"SetDefaultPolicyVersion": {},
	"UpdateAssumeRolePolicy":  {},
	"CreateUser":              {},
	"CreateRole":              {},
	"UpdateLoginProfile":      {},
	"DeleteUser":              {},
	"DeleteRole":              {},
	"DeleteAccessKey":         {},
}

var sensitiveTools = map[string]struct{}{
	"shell":        {},
	"bash":         {},
	"terminal":     {},
	"python_repl":  {},
	"sql":          {},
	"codegen":      {},
	"execute_code": {},
}

// secretMarkers are literal substrings that indicate credential material.
var secretMarkers = []string{
	"AWS_SECRET_ACCESS_KEY",
	"BEGIN PRIVATE KEY",
}

type shellPattern struct {
	source string
	re     *regexp.Regexp
}

// dangerousShellPatterns are matched case-insensitively, in order.
var dangerousShellPatterns = compilePatterns(
	`\brm\s+-rf\b`,
	`\bcurl\b.*\|\s*sh\b`,
	`\bwget\b.*\|\s*sh\b`,
	`\bchmod\s+\+x\b`,
	`\b(bash|sh)\s+-c\b`,
	`\bmkfs\.(ext4|xfs)\b`,
)

func compilePatterns(sources ...string) []shellPattern {
	out := make([]shellPattern, 0, len(sources))
	for _, src := range sources {
		out = append(out, shellPattern{source: src, re: regexp.MustCompile(`(?i)` + src)})
	}
	return out
}

// Score returns the clamped risk score and the signals that produced it.
// It never fails: unknown action types and missing fields contribute nothing.
func Score(actionType string, p Payload) (int, []string) {
	var (
		score   int
		signals []string
	)

	switch actionType {
	case "aws_api":
		svc := strings.ToLower(p.AWSService)
		if _, ok := highValueServices[svc]; ok {
			score += weightHighValueService
			signals = append(signals, "high_value_service:"+svc)
		}
		if _, ok := dangerousOperations[p.AWSOperation]; ok {
			score += weightDangerousOperation
			signals = append(signals, "dangerous_operation:"+p.AWSOperation)
		}
		if containsWildcard(p.Params) {
			score += weightWildcard
			signals = append(signals, "wildcard_detected")
		}

	case "tool_call", "codegen":
		tool := strings.ToLower(p.ToolName)
		if _, ok := sensitiveTools[tool]; ok {
			score += weightSensitiveTool
			signals = append(signals, "sensitive_tool:"+tool)
		}

		text := commandText(p.ToolArgs)
		for _, pat := range dangerousShellPatterns {
			if pat.re.MatchString(text) {
				score += weightDangerousPattern
				signals = append(signals, "dangerous_pattern:"+truncate(pat.source, patternSignalMaxChars))
			}
		}
		for _, marker := range secretMarkers {
			if strings.Contains(text, marker) {
				score += weightSecretMaterial
				signals = append(signals, "secret_material_detected")
				break
			}
		}
	}

	if score > MaxScore {
		score = MaxScore
	}
	return score, signals
}

// commandText joins the command, code and input arguments, in that order.
func commandText(args map[string]any) string {
	var parts []string
	for _, key := range []string{"command", "code", "input"} {
		v, ok := args[key]
		if !ok || v == nil {
			continue
		}
		var s string
		switch t := v.(type) {
		case string:
			s = t
		default:
			s = fmt.Sprint(t)
		}
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

// containsWildcard reports whether "*" appears anywhere in the serialized params,
// keys included.
func containsWildcard(params map[string]any) bool {
	if len(params) == 0 {
		return false
	}
	b, err := json.Marshal(params)
	if err != nil {
		return strings.Contains(fmt.Sprint(params), "*")
	}
	return strings.Contains(string(b), "*")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
