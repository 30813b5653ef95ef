package config

import "strings"

// Parse reads configuration content as JSONC or YAML and validates the
// result.
//
// JSONC is selected when the first non-whitespace character is `{`.
func Parse(content string, base Config) (Config, []Warning, error) {
	cfg, err := decode(content, base)
	if err != nil {
		return Config{}, nil, err
	}
	warnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, warnings, nil
}

func decode(content string, base Config) (Config, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return base, nil
	}

	var (
		payload fileConfig
		err     error
	)
	if strings.HasPrefix(trimmed, "{") {
		payload, err = decodeJSONC(content)
	} else {
		payload, err = decodeYAML(content)
	}
	if err != nil {
		return Config{}, err
	}

	cfg := base
	payload.applyTo(&cfg)
	return cfg, nil
}
