package ovs

import (
	"errors"
	"fmt"
	"net"
	"runtime"

	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
)

// Netdev manages the kernel side of a topology: host namespaces and veth pairs
type Netdev interface {
	CreateNamespace(name string) error
	DeleteNamespace(name string) error
	CreateVethPair(name, peer string) error
	DeleteVethPair(name, peer string) error
	MoveToNamespace(link, namespace string) error
	// ConfigureLink sets mac and cidr on link inside namespace and brings it up.
	// Empty mac or cidr are left untouched.
	ConfigureLink(namespace, link, mac, cidr string) error
}

// KernelNetdev implements Netdev with netlink and named network namespaces
type KernelNetdev struct {
	logger *logrus.Logger
}

// NewKernelNetdev creates a Netdev acting on the running kernel
func NewKernelNetdev(logger *logrus.Logger) *KernelNetdev {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.GetLevel())
	}
	return &KernelNetdev{logger: logger}
}

// CreateNamespace creates a named namespace under /var/run/netns
func (k *KernelNetdev) CreateNamespace(name string) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	origNS, err := netns.Get()
	if err != nil {
		return fmt.Errorf("failed to get current namespace: %w", err)
	}
	defer origNS.Close()

	// NewNamed switches the calling thread into the new namespace
	ns, err := netns.NewNamed(name)
	if err != nil {
		netns.Set(origNS)
		return fmt.Errorf("failed to create namespace %s: %w", name, err)
	}
	ns.Close()

	if err := netns.Set(origNS); err != nil {
		return fmt.Errorf("failed to return from namespace %s: %w", name, err)
	}

	k.logger.Infof("Created namespace %s", name)
	return nil
}

// DeleteNamespace removes a named namespace and every link inside it
func (k *KernelNetdev) DeleteNamespace(name string) error {
	if err := netns.DeleteNamed(name); err != nil {
		return fmt.Errorf("failed to delete namespace %s: %w", name, err)
	}

	k.logger.Infof("Deleted namespace %s", name)
	return nil
}

// ErrLinkExists is returned by CreateVethPair when either end name is taken
var ErrLinkExists = errors.New("link already exists")

// CreateVethPair creates a veth pair. Links already present on the host are never replaced.
func (k *KernelNetdev) CreateVethPair(vethName, peerName string) error {
	for _, name := range []string{vethName, peerName} {
		if _, err := netlink.LinkByName(name); err == nil {
			return fmt.Errorf("cannot create veth pair %s <-> %s: %s: %w", vethName, peerName, name, ErrLinkExists)
		}
	}

	veth := &netlink.Veth{
		LinkAttrs: netlink.LinkAttrs{
			Name: vethName,
		},
		PeerName: peerName,
	}

	if err := netlink.LinkAdd(veth); err != nil {
		return fmt.Errorf("failed to create veth pair %s <-> %s: %w", vethName, peerName, err)
	}

	for _, name := range []string{vethName, peerName} {
		if link, err := netlink.LinkByName(name); err == nil {
			if err := netlink.LinkSetUp(link); err != nil {
				k.logger.Warnf("Failed to bring up %s: %v", name, err)
			}
		}
	}

	k.logger.Infof("Created veth pair %s <-> %s", vethName, peerName)
	return nil
}

// DeleteVethPair deletes a veth pair through whichever end is still in the root namespace
func (k *KernelNetdev) DeleteVethPair(vethName, peerName string) error {
	for _, name := range []string{vethName, peerName} {
		link, err := netlink.LinkByName(name)
		if err != nil {
			continue
		}
		if err := netlink.LinkDel(link); err != nil {
			return fmt.Errorf("failed to delete veth %s: %w", name, err)
		}
		k.logger.Infof("Deleted veth pair %s <-> %s", vethName, peerName)
		return nil
	}

	k.logger.Debugf("Veth pair %s <-> %s already gone", vethName, peerName)
	return nil
}

// MoveToNamespace moves a link from the root namespace into a named namespace
func (k *KernelNetdev) MoveToNamespace(linkName, namespace string) error {
	link, err := netlink.LinkByName(linkName)
	if err != nil {
		return fmt.Errorf("failed to find interface %s: %w", linkName, err)
	}

	ns, err := netns.GetFromName(namespace)
	if err != nil {
		return fmt.Errorf("failed to open namespace %s: %w", namespace, err)
	}
	defer ns.Close()

	if err := netlink.LinkSetNsFd(link, int(ns)); err != nil {
		return fmt.Errorf("failed to move %s into namespace %s: %w", linkName, namespace, err)
	}
	return nil
}

// ConfigureLink implements Netdev
func (k *KernelNetdev) ConfigureLink(namespace, linkName, mac, cidr string) error {
	ns, err := netns.GetFromName(namespace)
	if err != nil {
		return fmt.Errorf("failed to open namespace %s: %w", namespace, err)
	}
	defer ns.Close()

	handle, err := netlink.NewHandleAt(ns)
	if err != nil {
		return fmt.Errorf("failed to open netlink handle in %s: %w", namespace, err)
	}
	defer handle.Delete()

	link, err := handle.LinkByName(linkName)
	if err != nil {
		return fmt.Errorf("failed to find interface %s in %s: %w", linkName, namespace, err)
	}

	if mac != "" {
		hw, err := net.ParseMAC(mac)
		if err != nil {
			return fmt.Errorf("invalid MAC %s for %s: %w", mac, linkName, err)
		}
		if err := handle.LinkSetHardwareAddr(link, hw); err != nil {
			return fmt.Errorf("failed to set MAC on %s: %w", linkName, err)
		}
	}

	if cidr != "" {
		addr, err := netlink.ParseAddr(cidr)
		if err != nil {
			return fmt.Errorf("invalid address %s for %s: %w", cidr, linkName, err)
		}
		if err := handle.AddrAdd(link, addr); err != nil {
			return fmt.Errorf("failed to add address %s to %s: %w", cidr, linkName, err)
		}
	}

	if lo, err := handle.LinkByName("lo"); err == nil {
		if err := handle.LinkSetUp(lo); err != nil {
			k.logger.Warnf("Failed to bring up lo in %s: %v", namespace, err)
		}
	}
	if err := handle.LinkSetUp(link); err != nil {
		return fmt.Errorf("failed to bring up %s in %s: %w", linkName, namespace, err)
	}

	k.logger.WithFields(logrus.Fields{"namespace": namespace, "link": linkName, "mac": mac, "address": cidr}).Debug("Configured host interface")
	return nil
}
