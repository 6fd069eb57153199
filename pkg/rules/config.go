package rules

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// BridgeRules holds the span legality thresholds.
type BridgeRules struct {
	MinUnits int `yaml:"min_units"`
	MaxUnits int `yaml:"max_units"`
}

// CategoryRule lists the subtypes a restoration may use within one material category.
// An empty Allowed list forbids the whole category.
type CategoryRule struct {
	Allowed   []string `yaml:"allowed"`
	Forbidden []string `yaml:"forbidden,omitempty"`
	Reason    string   `yaml:"reason,omitempty"`
}

// LongSpanRule warns when a long metal-free bridge uses a weaker ceramic.
type LongSpanRule struct {
	Units       int      `yaml:"units"`       // Warn above this span
	Recommended []string `yaml:"recommended"` // Metal-free subtypes that do not trigger the warning
}

// Config is the injectable rule data. Thresholds and tables are configuration,
// not code, and are loaded from YAML in production.
type Config struct {
	Bridge             BridgeRules                        `yaml:"bridge"`
	LongSpan           LongSpanRule                       `yaml:"long_span"`
	Compatibility      map[string]map[string]CategoryRule `yaml:"compatibility"`
	CategoryAliases    map[string]string                  `yaml:"category_aliases"`
	RestorationAliases map[string]string                  `yaml:"restoration_aliases"`
}

// DefaultConfig returns the lab's current rule set.
func DefaultConfig() Config {
	return Config{
		Bridge:   BridgeRules{MinUnits: 3, MaxUnits: 4},
		LongSpan: LongSpanRule{Units: 3, Recommended: []string{"fmz", "lava"}},
		Compatibility: map[string]map[string]CategoryRule{
			"crown": {
				"pfm": {Allowed: []string{"high-noble", "semi-precious", "non-precious", "palladium", "titanium"}},
				"metal-free": {
					Allowed:   []string{"ips-emax", "fmz", "fmz-ultra", "lava", "lava-plus", "lava-esthetic", "calypso", "composite"},
					Forbidden: []string{"zineer"},
				},
				"full-cast": {Allowed: []string{"high-precious-gold", "semi-precious-gold", "low-precious-gold", "white-gold", "pure-titanium", "non-precious"}},
			},
			"bridge": {
				"pfm": {Allowed: []string{"titanium", "non-precious", "high-noble", "semi-precious"}, Reason: "bridges need a strong metal framework"},
				"metal-free": {
					Allowed:   []string{"ips-emax", "fmz", "lava"},
					Forbidden: []string{"composite", "zineer"},
					Reason:    "metal-free bridges need high-strength ceramics",
				},
				"full-cast": {Allowed: []string{"high-precious-gold", "titanium"}},
			},
			"veneer": {
				"pfm": {Reason: "veneers must be all-ceramic for translucency"},
				"metal-free": {
					Allowed:   []string{"ips-emax"},
					Forbidden: []string{"composite", "zineer", "fmz"},
					Reason:    "veneers need a highly translucent ceramic",
				},
				"full-cast": {Reason: "veneers must be all-ceramic"},
			},
			"inlay": {
				"pfm":        {Reason: "inlays cannot be porcelain-fused-to-metal"},
				"metal-free": {Allowed: []string{"ips-emax", "composite"}},
				"full-cast":  {Allowed: []string{"high-precious-gold", "pure-titanium"}},
			},
			"onlay": {
				"pfm":        {Reason: "onlays cannot be porcelain-fused-to-metal"},
				"metal-free": {Allowed: []string{"ips-emax", "fmz"}},
				"full-cast":  {Allowed: []string{"high-precious-gold", "pure-titanium"}},
			},
		},
		CategoryAliases: map[string]string{
			"pfm":                      "pfm",
			"porcelain-fused-to-metal": "pfm",
			"porcelain fused to metal": "pfm",
			"porcelain":                "pfm",
			"烤瓷":                       "pfm",
			"metal-free":               "metal-free",
			"metal free":               "metal-free",
			"all-ceramic":              "metal-free",
			"all ceramic":              "metal-free",
			"ceramic":                  "metal-free",
			"全瓷":                       "metal-free",
			"full-cast":                "full-cast",
			"full cast":                "full-cast",
			"full-metal":               "full-cast",
			"full metal":               "full-cast",
			"全金屬":                      "full-cast",
			"全金":                       "full-cast",
		},
		RestorationAliases: map[string]string{
			"crown":   "crown",
			"crowns":  "crown",
			"cap":     "crown",
			"牙冠":      "crown",
			"冠":       "crown",
			"bridge":  "bridge",
			"bridges": "bridge",
			"牙橋":      "bridge",
			"橋":       "bridge",
			"veneer":  "veneer",
			"veneers": "veneer",
			"貼片":      "veneer",
			"瓷貼片":     "veneer",
			"inlay":   "inlay",
			"嵌體":      "inlay",
			"onlay":   "onlay",
			"高嵌體":     "onlay",
		},
	}
}

// LoadConfig reads rule data from a YAML file.
// Sections absent from the file keep their default values.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read rules file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML rule data over the defaults.
func ParseConfig(data []byte) (Config, error) {
	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Config{}, fmt.Errorf("failed to parse rules: %w", err)
	}

	cfg := DefaultConfig()
	if file.Bridge.MinUnits > 0 {
		cfg.Bridge.MinUnits = file.Bridge.MinUnits
	}
	if file.Bridge.MaxUnits > 0 {
		cfg.Bridge.MaxUnits = file.Bridge.MaxUnits
	}
	if file.LongSpan.Units > 0 {
		cfg.LongSpan = file.LongSpan
	}
	if len(file.Compatibility) > 0 {
		cfg.Compatibility = file.Compatibility
		for alias, canonical := range cfg.RestorationAliases {
			if _, ok := cfg.Compatibility[canonical]; !ok {
				delete(cfg.RestorationAliases, alias)
			}
		}
	}
	for k, v := range file.CategoryAliases {
		cfg.CategoryAliases[k] = v
	}
	for k, v := range file.RestorationAliases {
		cfg.RestorationAliases[k] = v
	}
	return cfg, nil
}

// Validate checks the config for internal consistency.
func (c Config) Validate() error {
	if c.Bridge.MinUnits < 2 {
		return fmt.Errorf("bridge min_units must be at least 2, got %d", c.Bridge.MinUnits)
	}
	if c.Bridge.MaxUnits < c.Bridge.MinUnits {
		return fmt.Errorf("bridge max_units (%d) is below min_units (%d)", c.Bridge.MaxUnits, c.Bridge.MinUnits)
	}
	if len(c.Compatibility) == 0 {
		return fmt.Errorf("compatibility table is empty")
	}
	for alias, canonical := range c.RestorationAliases {
		if _, ok := c.Compatibility[canonical]; !ok {
			return fmt.Errorf("restoration alias %q points to unknown type %q", alias, canonical)
		}
	}
	return nil
}
