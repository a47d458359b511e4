package authorize

// SharedRule grants write access beneath a path prefix. Roles restrict
// the grant to authors holding one of the listed roles when a role
// resolver is configured. When is an optional CEL condition over
// {author, path, roles} evaluated instead of the role list.
type SharedRule struct {
	Prefix string   `yaml:"prefix"`
	Roles  []string `yaml:"roles"`
	When   string   `yaml:"when,omitempty"`
}

// Config holds the shared-path rule table.
type Config struct {
	SharedRules []SharedRule `yaml:"shared_rules"`
}

// DefaultConfig returns the canonical rule table for the health domain.
func DefaultConfig() Config {
	return Config{
		SharedRules: []SharedRule{
			{Prefix: "/referrals/shared/", Roles: []string{"asha", "anm", "doctor"}},
			{Prefix: "/analytics/public/", Roles: []string{"district_admin", "data_analyst"}},
		},
	}
}
