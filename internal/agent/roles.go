package agent

import "fmt"

// Role identifies the specialization of a roster agent.
type Role string

const (
	RoleAnalyst   Role = "analyst"
	RoleArchitect Role = "architect"
	RoleDeveloper Role = "developer"
	RoleTester    Role = "tester"
	RoleOps       Role = "ops"
	RoleWriter    Role = "writer"
	RoleCustom    Role = "custom"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAnalyst, RoleArchitect, RoleDeveloper, RoleTester, RoleOps, RoleWriter, RoleCustom:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role: %s", s)
}

// defaultCapabilities returns the capability set a role carries unless the
// configuration overrides it.
func defaultCapabilities(role Role) []string {
	switch role {
	case RoleAnalyst:
		return []string{"requirements", "user-stories", "acceptance-criteria"}
	case RoleArchitect:
		return []string{"system-design", "api-design", "tradeoff-analysis"}
	case RoleDeveloper:
		return []string{"implementation", "refactoring", "code-review"}
	case RoleTester:
		return []string{"test-design", "test-automation", "regression-analysis"}
	case RoleOps:
		return []string{"deployment", "monitoring", "incident-response"}
	case RoleWriter:
		return []string{"documentation", "release-notes", "tutorials"}
	default:
		return nil
	}
}

func defaultSystemPrompt(role Role) string {
	switch role {
	case RoleAnalyst:
		return "You are a requirements analyst. Turn vague requests into precise, testable requirements."
	case RoleArchitect:
		return "You are a software architect. Produce designs with explicit interfaces and tradeoffs."
	case RoleDeveloper:
		return "You are a senior developer. Write correct, idiomatic code and explain key decisions briefly."
	case RoleTester:
		return "You are a test engineer. Find edge cases and write thorough, maintainable tests."
	case RoleOps:
		return "You are an operations engineer. Focus on deployment, reliability, and observability."
	case RoleWriter:
		return "You are a technical writer. Produce clear, accurate documentation for developers."
	default:
		return "You are a software team member. Complete the assigned task carefully."
	}
}
