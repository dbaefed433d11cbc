package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/agentshield/agentshield/internal/domain/policy"
)

const yamlBundle = `
tenant_id: 5f0c1d2e-3a4b-4c5d-8e6f-708192a3b4c5
policies:
  - name: block-prod
    dsl:
      rules:
        - name: no-prod-writes
          effect: DENY
          reason: Production is read-only
          match:
            equals: {actor: deploy-bot}
            glob: {tool_name: "prod_*"}
  - name: paused
    enabled: false
    dsl: '{"rules": []}'
`

func TestParsePolicyBundle_YAML(t *testing.T) {
	t.Parallel()

	b, err := ParsePolicyBundle([]byte(yamlBundle))
	if err != nil {
		t.Fatalf("ParsePolicyBundle() error: %v", err)
	}
	if b.TenantID != DevTenantID || len(b.Policies) != 2 {
		t.Fatalf("bundle = %+v", b)
	}
	if !b.Policies[0].IsEnabled() || b.Policies[1].IsEnabled() {
		t.Error("enabled flags not decoded")
	}
	if errs := b.Lint(nil); len(errs) != 0 {
		t.Errorf("Lint() = %v", errs)
	}

	doc, err := b.Policies[0].Document()
	if err != nil {
		t.Fatalf("Document() error: %v", err)
	}
	parsed, err := policy.ParseDocument(doc, nil)
	if err != nil {
		t.Fatalf("ParseDocument() error: %v", err)
	}
	r := parsed.Rules[0]
	if r.Name != "no-prod-writes" || r.Effect != policy.EffectDeny || len(r.Match.Clauses) != 2 {
		t.Errorf("rule = %+v", r)
	}
}

func TestParsePolicyBundle_JSON(t *testing.T) {
	t.Parallel()

	raw, _ := json.Marshal(map[string]any{
		"policies": []any{map[string]any{"name": "starter", "dsl": json.RawMessage(policy.StarterDocument)}},
	})
	b, err := ParsePolicyBundle(raw)
	if err != nil {
		t.Fatalf("ParsePolicyBundle() error: %v", err)
	}
	if errs := b.Lint(nil); len(errs) != 0 {
		t.Errorf("Lint() = %v", errs)
	}
}

func TestPolicyBundle_LintReportsAllProblems(t *testing.T) {
	t.Parallel()

	b, err := ParsePolicyBundle([]byte(`
tenant_id: acme
policies:
  - name: a
    dsl: {rules: [{effect: MAYBE}]}
  - name: a
    dsl: {rules: []}
  - name: ""
    dsl: {rules: []}
  - name: nodsl
`))
	if err != nil {
		t.Fatalf("ParsePolicyBundle() error: %v", err)
	}

	errs := b.Lint(nil)
	var joined []string
	for _, e := range errs {
		joined = append(joined, e.Error())
	}
	all := strings.Join(joined, "\n")
	for _, want := range []string{"not a uuid", "invalid policy document", "duplicate name", "name is required", "dsl is required"} {
		if !strings.Contains(all, want) {
			t.Errorf("Lint() output missing %q:\n%s", want, all)
		}
	}
}

func TestLoadPolicyBundle(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "policies.yaml")
	if err := os.WriteFile(path, []byte(yamlBundle), 0o600); err != nil {
		t.Fatal(err)
	}
	b, err := LoadPolicyBundle(path)
	if err != nil {
		t.Fatalf("LoadPolicyBundle() error: %v", err)
	}
	if len(b.Policies) != 2 {
		t.Errorf("policies = %d, want 2", len(b.Policies))
	}

	if _, err := LoadPolicyBundle(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
