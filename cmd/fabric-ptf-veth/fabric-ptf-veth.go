// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package main creates and deletes the veth pairs which connect the test dataplane to a switch under test
package main

import (
	"fmt"
	"github.com/onosproject/fabric-ptf/pkg/dataplane"
	"github.com/spf13/cobra"
	"os"
)

const countFlag = "count"

// The main entry point
func main() {
	if err := getRootCommand().Execute(); err != nil {
		println(err.Error())
		os.Exit(1)
	}
}

func getRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fabric-ptf-veth {create, delete}",
		Short: "Create or delete the veth pairs of the test dataplane",
	}
	cmd.AddCommand(getCreateCommand())
	cmd.AddCommand(getDeleteCommand())
	return cmd
}

func getCreateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create veth pairs; one end of each is meant for the switch, the other for the tests",
		Args:  cobra.NoArgs,
		RunE:  runCreateCommand,
	}
	cmd.Flags().Int(countFlag, 3, "number of veth pairs")
	return cmd
}

func runCreateCommand(cmd *cobra.Command, args []string) error {
	pairs, err := getPairs(cmd)
	if err != nil {
		return err
	}
	if err := dataplane.CreateVethPairs(pairs); err != nil {
		return err
	}
	for _, pair := range pairs {
		fmt.Printf("%s <-> %s\n", pair.Switch, pair.Test)
	}
	return nil
}

func getDeleteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete veth pairs",
		Args:  cobra.NoArgs,
		RunE:  runDeleteCommand,
	}
	cmd.Flags().Int(countFlag, 3, "number of veth pairs")
	return cmd
}

func runDeleteCommand(cmd *cobra.Command, args []string) error {
	pairs, err := getPairs(cmd)
	if err != nil {
		return err
	}
	return dataplane.DeleteVethPairs(pairs)
}

func getPairs(cmd *cobra.Command) ([]dataplane.VethPair, error) {
	count, _ := cmd.Flags().GetInt(countFlag)
	if count <= 0 {
		return nil, fmt.Errorf("invalid veth pair count %d", count)
	}
	return dataplane.VethPairs(count), nil
}
