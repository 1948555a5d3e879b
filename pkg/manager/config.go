// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package manager

import (
	"github.com/onosproject/fabric-ptf/pkg/simulator"
	"github.com/onosproject/onos-lib-go/pkg/errors"
	"github.com/spf13/viper"
	"os"
)

// DefaultMetricsPort is the port of the prometheus endpoint unless configured otherwise
const DefaultMetricsPort = 9090

// Config is a manager configuration
type Config struct {
	CAPath      string                   `mapstructure:"caPath"`
	KeyPath     string                   `mapstructure:"keyPath"`
	CertPath    string                   `mapstructure:"certPath"`
	MetricsPort int                      `mapstructure:"metricsPort"`
	Devices     []simulator.DeviceConfig `mapstructure:"devices"`
}

// LoadConfig loads the list of simulated devices from the given YAML file; "-" reads the standard input
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetDefault("metricsPort", DefaultMetricsPort)
	if path == "-" {
		if err := v.ReadConfig(os.Stdin); err != nil {
			return nil, errors.NewInvalid("unable to read devices from stdin: %+v", err)
		}
	} else {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.NewInvalid("unable to read devices from %s: %+v", path, err)
		}
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.NewInvalid("invalid device configuration: %+v", err)
	}
	if len(cfg.Devices) == 0 {
		return nil, errors.NewInvalid("no devices configured")
	}
	for _, device := range cfg.Devices {
		if device.Port < 1 || device.Port > simulator.MaxPort {
			return nil, errors.NewInvalid("device %s: gRPC port %d out of range 1..%d", device.ID, device.Port, simulator.MaxPort)
		}
	}
	return cfg, nil
}
