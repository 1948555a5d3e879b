// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package ptf provides the fixtures of the packet test framework: the shared switch target, the per-test
// fixture with its packet verification helpers and the fabric pipeline helpers
package ptf

import (
	"fmt"
	"github.com/onosproject/onos-lib-go/pkg/errors"
	"github.com/spf13/viper"
	"io"
	"os"
	"time"
)

const (
	// DefaultCPUPort is the CPU port of the fabric pipeline on bmv2
	DefaultCPUPort = 255
	// DefaultPortCount is the number of ports used by the fabric test cases
	DefaultPortCount = 3
)

// TargetConfig describes how to reach the P4Runtime target; an empty address selects the in-process switch
type TargetConfig struct {
	Address    string    `mapstructure:"address"`
	DeviceID   uint64    `mapstructure:"deviceID"`
	ElectionID uint64    `mapstructure:"electionID"`
	TLS        TLSConfig `mapstructure:"tls"`
	CheckGNMI  bool      `mapstructure:"checkGNMI"`
}

// TLSConfig carries the client security settings
type TLSConfig struct {
	Insecure bool   `mapstructure:"insecure"`
	CertPath string `mapstructure:"certPath"`
	KeyPath  string `mapstructure:"keyPath"`
}

// PipelineConfig names the files of the pipeline pushed to the target; the embedded fabric P4Info is used
// when no P4Info is given
type PipelineConfig struct {
	P4Info       string `mapstructure:"p4info"`
	DeviceConfig string `mapstructure:"deviceConfig"`
}

// PortConfig maps a switch port to the interface of the test host facing it
type PortConfig struct {
	Number    uint32 `mapstructure:"number"`
	Interface string `mapstructure:"interface"`
	// Name is the gNMI interface name of the port; defaults to the port number
	Name string `mapstructure:"name"`
}

// TimeoutConfig bounds the waits of positive and negative packet checks
type TimeoutConfig struct {
	Positive time.Duration `mapstructure:"positive"`
	Negative time.Duration `mapstructure:"negative"`
}

// Config is the configuration of a test run
type Config struct {
	Target   TargetConfig   `mapstructure:"target"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	CPUPort  uint32         `mapstructure:"cpuPort"`
	Ports    []PortConfig   `mapstructure:"ports"`
	Timeouts TimeoutConfig  `mapstructure:"timeouts"`
	Trace    string         `mapstructure:"trace"`
	Groups   []string       `mapstructure:"groups"`
}

// InProcess returns true if the suite runs against the in-process switch
func (c *Config) InProcess() bool {
	return len(c.Target.Address) == 0
}

// PortNumbers returns the configured port numbers in configuration order
func (c *Config) PortNumbers() []uint32 {
	numbers := make([]uint32, 0, len(c.Ports))
	for _, p := range c.Ports {
		numbers = append(numbers, p.Number)
	}
	return numbers
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetDefault("target.deviceID", 1)
	v.SetDefault("target.electionID", 10)
	v.SetDefault("target.checkGNMI", true)
	v.SetDefault("cpuPort", DefaultCPUPort)
	v.SetDefault("timeouts.positive", 2*time.Second)
	v.SetDefault("timeouts.negative", 100*time.Millisecond)
	return v
}

// LoadConfig loads the configuration from the YAML file at the given path; "-" reads the standard input and
// an empty path yields the defaults
func LoadConfig(path string) (*Config, error) {
	v := newViper()
	switch path {
	case "":
	case "-":
		if err := v.ReadConfig(os.Stdin); err != nil {
			return nil, errors.NewInvalid("unable to read configuration from stdin: %+v", err)
		}
	default:
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.NewInvalid("unable to read configuration %s: %+v", path, err)
		}
	}
	return decode(v)
}

// ParseConfig loads the configuration from the given YAML stream
func ParseConfig(r io.Reader) (*Config, error) {
	v := newViper()
	if err := v.ReadConfig(r); err != nil {
		return nil, errors.NewInvalid("unable to parse configuration: %+v", err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.NewInvalid("invalid configuration: %+v", err)
	}
	if len(cfg.Ports) == 0 {
		for i := uint32(1); i <= DefaultPortCount; i++ {
			cfg.Ports = append(cfg.Ports, PortConfig{Number: i})
		}
	}
	seen := make(map[uint32]bool)
	for i := range cfg.Ports {
		port := &cfg.Ports[i]
		if port.Number == 0 || port.Number == cfg.CPUPort {
			return nil, errors.NewInvalid("invalid port number %d", port.Number)
		}
		if seen[port.Number] {
			return nil, errors.NewInvalid("duplicate port number %d", port.Number)
		}
		seen[port.Number] = true
		if len(port.Name) == 0 {
			port.Name = fmt.Sprintf("%d", port.Number)
		}
		if !cfg.InProcess() && len(port.Interface) == 0 {
			return nil, errors.NewInvalid("port %d has no interface", port.Number)
		}
	}
	if cfg.Timeouts.Positive <= 0 || cfg.Timeouts.Negative <= 0 {
		return nil, errors.NewInvalid("timeouts must be positive")
	}
	return cfg, nil
}
