package policy

import "testing"

func TestResolverAllowsAliasedTool(t *testing.T) {
	resolver := NewResolver()
	resolver.RegisterAlias("run_shell", "exec")

	policy := &Policy{Allow: []string{"exec"}}
	if !resolver.IsAllowed(policy, "run_shell") {
		t.Fatal("expected aliased tool to be allowed")
	}
}

func TestResolverAllowsAliasViaGroup(t *testing.T) {
	resolver := NewResolver()
	resolver.RegisterAlias("run_shell", "exec")

	policy := &Policy{Allow: []string{"group:runtime"}}
	if !resolver.IsAllowed(policy, "run_shell") {
		t.Fatal("expected aliased tool to be allowed via group")
	}
}

func TestResolverAddGroupIsScopedToInstance(t *testing.T) {
	r1 := NewResolver()
	r1.AddGroup("group:custom", []string{"widget"})

	r2 := NewResolver()
	policy := &Policy{Allow: []string{"group:custom"}}

	if !r1.IsAllowed(policy, "widget") {
		t.Fatal("expected widget to be allowed on the resolver that registered the group")
	}
	if r2.IsAllowed(policy, "widget") {
		t.Fatal("custom groups must not leak across resolver instances")
	}
}

func TestMatchToolPatternPrefixWildcard(t *testing.T) {
	tests := []struct {
		pattern  string
		tool     string
		expected bool
	}{
		{"*", "anything", true},
		{"sessions_*", "sessions_list", true},
		{"sessions_*", "memory_search", false},
		{"exec", "exec", true},
		{"exec", "execute_code", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"_"+tt.tool, func(t *testing.T) {
			if got := matchToolPattern(tt.pattern, tt.tool); got != tt.expected {
				t.Errorf("matchToolPattern(%s, %s) = %v, want %v", tt.pattern, tt.tool, got, tt.expected)
			}
		})
	}
}
