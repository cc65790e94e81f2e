// Package role holds the static role hierarchy. Route gating, prompt
// templates, tool suggestions and capability lookups all read from the same
// table so "who can call this" and "what they get back" cannot drift apart.
package role

import "strings"

type Role string

const (
	JuniorStaff       Role = "Junior Staff"
	IntermediateStaff Role = "Intermediate Staff"
	DepartmentalHead  Role = "Departmental Head"
)

type Capabilities struct {
	Level        string   `json:"level"`
	Features     []string `json:"features"`
	Restrictions []string `json:"restrictions"`
}

type policy struct {
	level        int
	template     string
	tools        []string
	capabilities Capabilities
}

var policies = map[Role]policy{
	JuniorStaff: {
		level: 1,
		template: "You are a basic financial AI assistant. Provide simple explanations of financial metrics and basic insights. " +
			"Keep responses under 200 words and focus on explaining what the numbers mean.",
		tools: []string{"Basic Calculator", "Ratio Explainer"},
		capabilities: Capabilities{
			Level:        "Basic",
			Features:     []string{"Ask Questions to Reports", "View Department-specific Analysis"},
			Restrictions: []string{"No Action Plans", "No Scenario Simulation"},
		},
	},
	IntermediateStaff: {
		level: 2,
		template: "You are an intermediate financial AI analyst. Provide contextual analysis, basic strategic recommendations, " +
			"and 30-60-90 day action plans. Include tool suggestions and scenario analysis. Responses can be 300-500 words.",
		tools: []string{"Cash Flow Simulator", "Ratio Analysis", "Benchmarking Tool", "Scenario Planner"},
		capabilities: Capabilities{
			Level:        "Intermediate",
			Features:     []string{"Context-aware responses", "Basic Action Plans", "Scenario Simulation"},
			Restrictions: []string{"No Cross-Agent Collaboration"},
		},
	},
	DepartmentalHead: {
		level: 3,
		template: "You are an advanced financial AI advisor. Provide comprehensive strategic analysis, predictive recommendations, " +
			"and concrete action plans. Include cross-functional strategies. Detailed responses welcome.",
		tools: []string{"Multi-Agent Orchestration", "Predictive Analytics", "Autonomous Planning", "Strategic Optimizer"},
		capabilities: Capabilities{
			Level:        "Advanced",
			Features:     []string{"Autonomous insights", "Strategic Planning", "Cross-Agent Collaboration"},
			Restrictions: []string{},
		},
	},
}

// All returns the roles in ascending privilege order.
func All() []Role {
	return []Role{JuniorStaff, IntermediateStaff, DepartmentalHead}
}

// Parse matches a role name exactly after trimming surrounding space.
func Parse(name string) (Role, bool) {
	r := Role(strings.TrimSpace(name))
	_, ok := policies[r]
	return r, ok
}

// Level returns the ordinal of a role; unknown roles are 0.
func Level(name string) int {
	r, ok := Parse(name)
	if !ok {
		return 0
	}
	return policies[r].level
}

// HasAccess reports whether userRole ranks at least as high as requiredRole.
func HasAccess(userRole, requiredRole string) bool {
	return Level(userRole) >= Level(requiredRole)
}

// Normalize maps unknown roles to the lowest privilege. It never fails open.
func Normalize(name string) Role {
	if r, ok := Parse(name); ok {
		return r
	}
	return JuniorStaff
}

// Template returns the instruction template for the role, falling back to
// the Junior Staff template.
func Template(name string) string {
	return policies[Normalize(name)].template
}

// Tools returns the suggested tools for a known role; unknown roles get none.
func Tools(name string) []string {
	r, ok := Parse(name)
	if !ok {
		return []string{}
	}
	out := make([]string, len(policies[r].tools))
	copy(out, policies[r].tools)
	return out
}

// CapabilitiesOf returns the capability sheet, Junior Staff for unknown roles.
func CapabilitiesOf(name string) Capabilities {
	c := policies[Normalize(name)].capabilities
	return Capabilities{
		Level:        c.Level,
		Features:     append([]string{}, c.Features...),
		Restrictions: append([]string{}, c.Restrictions...),
	}
}
