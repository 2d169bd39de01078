package policy

import (
	"fmt"

	"github.com/spf13/viper"
)

// Load reads an escalation policy document (YAML, JSON or TOML by extension)
// and compiles it. An empty path yields the built-in defaults. The reader
// lowercases keys, so hospital and department ids match case-insensitively.
//
//	defaults:
//	  windows: {"1": 5m, "2": 10m}
//	hospitals:
//	  st-marys:
//	    roles: [nurse, charge_nurse, doctor, head_doctor]
//	    departments:
//	      icu:
//	        windows: {"1": 2m}
func Load(path string) (*Resolver, error) {
	if path == "" {
		return DefaultResolver(), nil
	}

	// Hospital and department ids may contain dots; the default "." delimiter
	// would split them into nested keys.
	v := viper.NewWithOptions(viper.KeyDelimiter("::"))
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read escalation policy %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode escalation policy %s: %w", path, err)
	}

	r, err := NewResolver(cfg)
	if err != nil {
		return nil, fmt.Errorf("escalation policy %s: %w", path, err)
	}
	return r, nil
}
