package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/agentshield/agentshield/internal/domain/policy"
)

// PolicyBundle is a set of policy documents for one tenant, read from YAML
// or JSON:
//
//	tenant_id: 5f0c...
//	policies:
//	  - name: starter
//	    enabled: true
//	    dsl: {rules: [...]}
//
// dsl may also be given as a JSON string.
type PolicyBundle struct {
	TenantID string         `yaml:"tenant_id"`
	Policies []BundlePolicy `yaml:"policies"`
}

// BundlePolicy is one named document in a bundle.
type BundlePolicy struct {
	Name    string `yaml:"name"`
	Enabled *bool  `yaml:"enabled"`
	DSL     any    `yaml:"dsl"`
}

// IsEnabled reports the enabled flag, defaulting to true.
func (p BundlePolicy) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// Document returns the policy document as JSON bytes.
func (p BundlePolicy) Document() ([]byte, error) {
	switch dsl := p.DSL.(type) {
	case nil:
		return nil, errors.New("dsl is required")
	case string:
		return []byte(dsl), nil
	default:
		b, err := json.Marshal(dsl)
		if err != nil {
			return nil, fmt.Errorf("encode dsl: %w", err)
		}
		return b, nil
	}
}

// LoadPolicyBundle reads a bundle file.
func LoadPolicyBundle(path string) (*PolicyBundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy bundle: %w", err)
	}
	return ParsePolicyBundle(data)
}

// ParsePolicyBundle decodes a YAML or JSON bundle.
func ParsePolicyBundle(data []byte) (*PolicyBundle, error) {
	var b PolicyBundle
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parse policy bundle: %w", err)
	}
	return &b, nil
}

// Lint parses every document in the bundle and reports all problems. A
// bundle applied by tenant override may omit tenant_id, so it is only
// checked when present.
func (b *PolicyBundle) Lint(compiler policy.ConditionCompiler) []error {
	var errs []error
	if b.TenantID != "" {
		if _, err := uuid.Parse(b.TenantID); err != nil {
			errs = append(errs, fmt.Errorf("tenant_id %q is not a uuid", b.TenantID))
		}
	}
	if len(b.Policies) == 0 {
		errs = append(errs, errors.New("bundle contains no policies"))
	}

	seen := make(map[string]struct{}, len(b.Policies))
	for i, p := range b.Policies {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("policies[%d]: name is required", i))
		} else if _, dup := seen[p.Name]; dup {
			errs = append(errs, fmt.Errorf("policies[%d]: duplicate name %q", i, p.Name))
		}
		seen[p.Name] = struct{}{}

		doc, err := p.Document()
		if err != nil {
			errs = append(errs, fmt.Errorf("policies[%d] %s: %w", i, p.Name, err))
			continue
		}
		if _, err := policy.ParseDocument(doc, compiler); err != nil {
			errs = append(errs, fmt.Errorf("policies[%d] %s: %w", i, p.Name, err))
		}
	}
	return errs
}
