package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/orbis-track/borrow-service/internal/domain"
)

func TestParseChainPolicy(t *testing.T) {
	doc := []byte(`
levels:
  - role: HOD
    scope: department
  - role: ADMIN
    scope: organization
`)
	policy, err := ParseChainPolicy(doc)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(policy.Levels) != 2 {
		t.Fatalf("expected 2 levels, got %d", len(policy.Levels))
	}
	if policy.Levels[0].Role != domain.ApproverRoleHOD || policy.Levels[0].Scope != ScopeDepartment {
		t.Fatalf("unexpected first level: %+v", policy.Levels[0])
	}
}

func TestParseChainPolicyRejectsUnknownValues(t *testing.T) {
	cases := map[string]string{
		"empty":         "levels: []\n",
		"unknown role":  "levels:\n  - role: CEO\n    scope: organization\n",
		"unknown scope": "levels:\n  - role: HOS\n    scope: floor\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseChainPolicy([]byte(doc)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadChainPolicy(t *testing.T) {
	policy, err := LoadChainPolicy("")
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	if len(policy.Levels) != 3 {
		t.Fatalf("default policy should have 3 levels, got %d", len(policy.Levels))
	}

	path := filepath.Join(t.TempDir(), "chain.yaml")
	if err := os.WriteFile(path, []byte("levels:\n  - role: ADMIN\n    scope: organization\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	policy, err = LoadChainPolicy(path)
	if err != nil {
		t.Fatalf("load file: %v", err)
	}
	if len(policy.Levels) != 1 || policy.Levels[0].Role != domain.ApproverRoleAdmin {
		t.Fatalf("unexpected policy: %+v", policy)
	}

	if _, err := LoadChainPolicy(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestBundledPolicyMatchesDefault(t *testing.T) {
	policy, err := LoadChainPolicy(filepath.Join("..", "..", "configs", "chain_policy.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := DefaultChainPolicy()
	if len(policy.Levels) != len(want.Levels) {
		t.Fatalf("levels = %d, want %d", len(policy.Levels), len(want.Levels))
	}
	for i := range want.Levels {
		if policy.Levels[i] != want.Levels[i] {
			t.Fatalf("level %d = %+v, want %+v", i, policy.Levels[i], want.Levels[i])
		}
	}
}
