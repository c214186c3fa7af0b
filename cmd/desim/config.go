package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sarchlab/desim/examples/counter"
	"github.com/sarchlab/desim/examples/ecosystem"
	"github.com/sarchlab/desim/examples/queueing"
)

// modelConfig holds the parameters of every model. A config file only needs
// the sections it changes.
type modelConfig struct {
	MM1       queueing.MM1Config `yaml:"mm1"`
	GG1       queueing.GG1Config `yaml:"gg1"`
	CRN       queueing.CRNConfig `yaml:"crn"`
	Ecosystem ecosystem.Config   `yaml:"ecosystem"`
	Counter   counter.Config     `yaml:"counter"`
}

func defaultModelConfig() modelConfig {
	return modelConfig{
		MM1:       queueing.DefaultMM1Config(),
		GG1:       queueing.DefaultGG1Config(),
		CRN:       queueing.DefaultCRNConfig(),
		Ecosystem: ecosystem.DefaultConfig(),
		Counter:   counter.DefaultConfig(),
	}
}

// loadModelConfig reads path over the defaults. Unknown keys are rejected.
// An empty path returns the defaults.
func loadModelConfig(path string) (modelConfig, error) {
	cfg := defaultModelConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	return parseModelConfig(data)
}

func parseModelConfig(data []byte) (modelConfig, error) {
	cfg := defaultModelConfig()

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}

	err := errors.Join(
		cfg.MM1.Validate(),
		cfg.GG1.Validate(),
		cfg.CRN.Validate(),
		cfg.Ecosystem.Validate(),
		cfg.Counter.Validate(),
	)

	return cfg, err
}
