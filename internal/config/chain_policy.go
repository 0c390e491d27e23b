package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/orbis-track/borrow-service/internal/domain"
)

// ScopeKind names the organizational level a chain step is resolved against.
type ScopeKind string

const (
	ScopeSection      ScopeKind = "section"
	ScopeDepartment   ScopeKind = "department"
	ScopeOrganization ScopeKind = "organization"
)

// ChainLevel is one configured approval gate.
type ChainLevel struct {
	Role  domain.ApproverRole `yaml:"role"`
	Scope ScopeKind           `yaml:"scope"`
}

// ChainPolicy is the ordered list of approval gates, nearest scope first.
type ChainPolicy struct {
	Levels []ChainLevel `yaml:"levels"`
}

// DefaultChainPolicy is section head, then department head, then an administrator.
func DefaultChainPolicy() ChainPolicy {
	return ChainPolicy{Levels: []ChainLevel{
		{Role: domain.ApproverRoleHOS, Scope: ScopeSection},
		{Role: domain.ApproverRoleHOD, Scope: ScopeDepartment},
		{Role: domain.ApproverRoleAdmin, Scope: ScopeOrganization},
	}}
}

// Validate checks that every level uses a known role and scope.
func (p ChainPolicy) Validate() error {
	if len(p.Levels) == 0 {
		return fmt.Errorf("approval chain policy has no levels")
	}
	for i, level := range p.Levels {
		if !level.Role.Valid() {
			return fmt.Errorf("level %d: unknown role %q", i+1, level.Role)
		}
		switch level.Scope {
		case ScopeSection, ScopeDepartment, ScopeOrganization:
		default:
			return fmt.Errorf("level %d: unknown scope %q", i+1, level.Scope)
		}
	}
	return nil
}

// ParseChainPolicy decodes a YAML policy document.
func ParseChainPolicy(data []byte) (ChainPolicy, error) {
	var policy ChainPolicy
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return ChainPolicy{}, fmt.Errorf("decode chain policy: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return ChainPolicy{}, err
	}
	return policy, nil
}

// LoadChainPolicy reads the policy file, or returns the default when path is empty.
func LoadChainPolicy(path string) (ChainPolicy, error) {
	if path == "" {
		return DefaultChainPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ChainPolicy{}, fmt.Errorf("read chain policy: %w", err)
	}
	return ParseChainPolicy(data)
}
