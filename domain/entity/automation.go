package entity

// AutomationScript is a remediation script operators allow the engine to
// run. Anything not listed in the configuration is refused.
type AutomationScript struct {
	Name        string   `mapstructure:"name" validate:"required"`
	Description string   `mapstructure:"description"`
	Disabled    bool     `mapstructure:"disabled"`
	Triggers    []string `mapstructure:"triggers"`
}
