package agent

import (
	"strings"

	"github.com/restflow/engine/internal/tools/policy"
)

// matchesToolPatterns reports whether toolName matches any pattern in the
// list, after resolving toolName to its canonical name through resolver (so
// aliases and MCP-qualified names match the same patterns their canonical
// form would). Supports exact match, prefix*/*suffix wildcards, "*", and the
// "mcp:*" prefix form.
func matchesToolPatterns(patterns []string, toolName string, resolver *policy.Resolver) bool {
	name := toolName
	if resolver != nil {
		name = resolver.CanonicalName(toolName)
	}
	return matchToolPattern(patterns, name)
}

func matchToolPattern(patterns []string, toolName string) bool {
	normalizedTool := policy.NormalizeTool(toolName)
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		normalizedPattern := policy.NormalizeTool(pattern)

		if normalizedPattern == "*" {
			return true
		}
		if normalizedPattern == normalizedTool {
			return true
		}
		if normalizedPattern == "mcp:*" && strings.HasPrefix(normalizedTool, "mcp:") {
			return true
		}
		if len(normalizedPattern) > 1 && normalizedPattern[len(normalizedPattern)-1] == '*' {
			prefix := normalizedPattern[:len(normalizedPattern)-1]
			if strings.HasPrefix(normalizedTool, prefix) {
				return true
			}
		}
		if len(normalizedPattern) > 1 && normalizedPattern[0] == '*' {
			suffix := normalizedPattern[1:]
			if strings.HasSuffix(normalizedTool, suffix) {
				return true
			}
		}
	}
	return false
}
