// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package fabric holds the test cases of the fabric pipeline. By default they run against the in-process
// reference switch; -ptf.config selects another target.
package fabric

import (
	"context"
	"flag"
	"fmt"
	"github.com/google/gopacket/layers"
	"github.com/onosproject/fabric-ptf/pkg/packets"
	"github.com/onosproject/fabric-ptf/pkg/ptf"
	"os"
	"strings"
	"testing"
	"time"
)

var (
	configPath     = flag.String("ptf.config", "", "path of the suite configuration; - reads it from stdin")
	groupsFlag     = flag.String("ptf.groups", "", "comma separated test groups to run, overriding the configuration")
	connectTimeout = flag.Duration("ptf.connect-timeout", 30*time.Second, "time allowed to reach the target")
)

var target *ptf.Target

func TestMain(m *testing.M) {
	flag.Parse()
	os.Exit(run(m))
}

func run(m *testing.M) int {
	cfg, err := ptf.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unable to load configuration: %+v\n", err)
		return 1
	}
	if len(*groupsFlag) > 0 {
		cfg.Groups = strings.Split(*groupsFlag, ",")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *connectTimeout)
	defer cancel()
	target, err = ptf.Connect(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unable to connect to target: %+v\n", err)
		return 1
	}
	defer func() {
		if err := target.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "unable to close target: %+v\n", err)
		}
	}()
	return m.Run()
}

func ethernet(t *testing.T, frame []byte) *layers.Ethernet {
	t.Helper()
	eth, ok := packets.Decode(frame).Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	if !ok {
		t.Fatalf("not an Ethernet frame")
	}
	return eth
}

func ipv6(t *testing.T, frame []byte) *layers.IPv6 {
	t.Helper()
	ip, ok := packets.Decode(frame).Layer(layers.LayerTypeIPv6).(*layers.IPv6)
	if !ok {
		t.Fatalf("not an IPv6 packet")
	}
	return ip
}
