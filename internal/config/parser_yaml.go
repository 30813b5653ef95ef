package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

func decodeYAML(content string) (fileConfig, error) {
	decoder := yaml.NewDecoder(bytes.NewBufferString(content))
	decoder.KnownFields(true)

	var payload fileConfig
	if err := decoder.Decode(&payload); err != nil {
		if errors.Is(err, io.EOF) {
			return fileConfig{}, nil
		}
		return fileConfig{}, fmt.Errorf("yaml: %w", err)
	}

	var extra yaml.Node
	if err := decoder.Decode(&extra); !errors.Is(err, io.EOF) {
		if err != nil {
			return fileConfig{}, fmt.Errorf("yaml: %w", err)
		}
		return fileConfig{}, errors.New("yaml: multiple documents are not allowed")
	}
	return payload, nil
}
