// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package main is the main entry point for starting the fabric switch simulator
package main

import (
	"github.com/onosproject/fabric-ptf/pkg/manager"
	"github.com/onosproject/onos-lib-go/pkg/logging"
	"github.com/spf13/cobra"
	"os"
	"os/signal"
	"syscall"
)

var log = logging.GetLogger()

const (
	configFlag      = "config"
	caPathFlag      = "ca-path"
	keyPathFlag     = "key-path"
	certPathFlag    = "cert-path"
	metricsPortFlag = "metrics-port"
)

// The main entry point
func main() {
	if err := getRootCommand().Execute(); err != nil {
		println(err.Error())
		os.Exit(1)
	}
}

func getRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fabric-sim",
		Short: "Run simulated fabric switches exposing P4Runtime, gNMI and gNOI",
		Args:  cobra.NoArgs,
		RunE:  runRootCommand,
	}
	cmd.Flags().String(configFlag, "-", "devices YAML file; use - for stdin (default)")
	cmd.Flags().String(caPathFlag, "", "path to CA certificate")
	cmd.Flags().String(keyPathFlag, "", "path to server private key")
	cmd.Flags().String(certPathFlag, "", "path to server certificate")
	cmd.Flags().Int(metricsPortFlag, manager.DefaultMetricsPort, "port of the prometheus metrics endpoint; 0 disables it")
	return cmd
}

func runRootCommand(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString(configFlag)
	cfg, err := manager.LoadConfig(configPath)
	if err != nil {
		return err
	}
	overrideString(cmd, caPathFlag, &cfg.CAPath)
	overrideString(cmd, keyPathFlag, &cfg.KeyPath)
	overrideString(cmd, certPathFlag, &cfg.CertPath)
	if cmd.Flags().Changed(metricsPortFlag) {
		cfg.MetricsPort, _ = cmd.Flags().GetInt(metricsPortFlag)
	}

	log.Infow("Starting fabric-sim", "devices", len(cfg.Devices))
	mgr := manager.NewManager(*cfg)
	mgr.Run()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	mgr.Close()
	return nil
}

// flags take precedence over the configuration file
func overrideString(cmd *cobra.Command, flag string, value *string) {
	if cmd.Flags().Changed(flag) {
		*value, _ = cmd.Flags().GetString(flag)
	}
}
