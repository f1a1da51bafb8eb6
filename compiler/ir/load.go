package ir

import (
	"os"

	"gopkg.in/yaml.v3"
	"tlog.app/go/errors"
)

// Decode reads a module written in yaml.
func Decode(data []byte) (*Module, error) {
	var m Module

	err := yaml.Unmarshal(data, &m)
	if err != nil {
		return nil, errors.Wrap(err, "yaml")
	}

	return &m, nil
}

func LoadFile(name string) (*Module, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}

	m, err := Decode(data)
	if err != nil {
		return nil, errors.Wrap(err, "decode %v", name)
	}

	if m.Name == "" {
		m.Name = name
	}

	return m, nil
}

// Encode writes m in the form Decode reads.
func Encode(m *Module) ([]byte, error) {
	data, err := yaml.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "yaml")
	}

	return data, nil
}
