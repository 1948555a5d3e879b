// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package dataplane

import (
	"fmt"
	"github.com/onosproject/onos-lib-go/pkg/errors"
	"github.com/vishvananda/netlink"
	"os"
)

const vethMTU = 9500

// CreateVethPairs creates the given veth pairs, disables IPv6 on both ends and brings them up;
// pairs which already exist are left in place
func CreateVethPairs(pairs []VethPair) error {
	for _, pair := range pairs {
		if _, err := netlink.LinkByName(pair.Switch); err == nil {
			log.Infof("Port %d: %s already exists", pair.Port, pair.Switch)
			continue
		}
		attrs := netlink.NewLinkAttrs()
		attrs.Name = pair.Switch
		attrs.MTU = vethMTU
		if err := netlink.LinkAdd(&netlink.Veth{LinkAttrs: attrs, PeerName: pair.Test}); err != nil {
			return errors.NewUnavailable("unable to create %s/%s: %+v", pair.Switch, pair.Test, err)
		}
		for _, name := range []string{pair.Switch, pair.Test} {
			if err := disableIPv6(name); err != nil {
				log.Warnf("Port %d: unable to disable IPv6 on %s: %+v", pair.Port, name, err)
			}
			link, err := netlink.LinkByName(name)
			if err != nil {
				return errors.NewNotFound("unable to find %s: %+v", name, err)
			}
			if err := netlink.LinkSetUp(link); err != nil {
				return errors.NewUnavailable("unable to bring %s up: %+v", name, err)
			}
		}
		log.Infof("Port %d: created %s/%s", pair.Port, pair.Switch, pair.Test)
	}
	return nil
}

// DeleteVethPairs removes the given veth pairs; deleting one end removes its peer too
func DeleteVethPairs(pairs []VethPair) error {
	for _, pair := range pairs {
		link, err := netlink.LinkByName(pair.Switch)
		if err != nil {
			continue
		}
		if err := netlink.LinkDel(link); err != nil {
			return errors.NewUnavailable("unable to delete %s: %+v", pair.Switch, err)
		}
		log.Infof("Port %d: deleted %s/%s", pair.Port, pair.Switch, pair.Test)
	}
	return nil
}

func disableIPv6(name string) error {
	return os.WriteFile(fmt.Sprintf("/proc/sys/net/ipv6/conf/%s/disable_ipv6", name), []byte("1"), 0644)
}
