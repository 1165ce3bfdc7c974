package ovs

import (
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// Runner executes a command and returns its combined output
type Runner func(name string, args ...string) ([]byte, error)

func execRunner(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}

// Client provides an interface to Open vSwitch
type Client struct {
	logger *logrus.Logger
	run    Runner
}

// NewClient creates a new OVS client
func NewClient() (*Client, error) {
	logger := logrus.New()
	logger.SetLevel(logrus.GetLevel())

	return NewClientWithRunner(execRunner, logger), nil
}

// NewClientWithRunner creates a client that sends its commands through run
func NewClientWithRunner(run Runner, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.GetLevel())
	}
	return &Client{logger: logger, run: run}
}

func (c *Client) vsctl(args ...string) (string, error) {
	output, err := c.run("ovs-vsctl", args...)
	return string(output), err
}

// Ping verifies that OVS is accessible
func (c *Client) Ping() error {
	output, err := c.vsctl("--version")
	if err != nil {
		return fmt.Errorf("ovs-vsctl not accessible: %w (output: %s)", err, output)
	}
	c.logger.Debugf("OVS version: %s", strings.TrimSpace(output))
	return nil
}

// ListBridges returns a list of all OVS bridges
func (c *Client) ListBridges() ([]string, error) {
	output, err := c.vsctl("list-br")
	if err != nil {
		return nil, fmt.Errorf("failed to list bridges: %w (output: %s)", err, output)
	}
	return splitLines(output), nil
}

// ListPorts returns the ports attached to a bridge
func (c *Client) ListPorts(bridge string) ([]string, error) {
	output, err := c.vsctl("list-ports", bridge)
	if err != nil {
		return nil, fmt.Errorf("failed to list ports of bridge %s: %w (output: %s)", bridge, err, output)
	}
	return splitLines(output), nil
}

// ErrBridgeExists is returned by CreateBridge for a bridge that is already present
var ErrBridgeExists = errors.New("bridge already exists")

// CreateBridge creates an OVS bridge with the given datapath ID. Existing
// bridges are left untouched. New bridges start in standalone mode until a
// controller is set.
func (c *Client) CreateBridge(bridge, dpid string) error {
	if _, err := c.vsctl("br-exists", bridge); err == nil {
		return fmt.Errorf("%s: %w", bridge, ErrBridgeExists)
	}

	c.logger.WithFields(logrus.Fields{"bridge": bridge, "dpid": dpid}).Info("Creating OVS bridge")
	args := []string{"add-br", bridge, "--", "set", "bridge", bridge, "fail-mode=standalone"}
	if dpid != "" {
		args = append(args, "other-config:datapath-id="+dpid)
	}
	output, err := c.vsctl(args...)
	if err != nil {
		return fmt.Errorf("failed to create bridge %s: %w (output: %s)", bridge, err, output)
	}
	return nil
}

// DeleteBridge removes an OVS bridge and all of its ports
func (c *Client) DeleteBridge(bridge string) error {
	output, err := c.vsctl("--if-exists", "del-br", bridge)
	if err != nil {
		return fmt.Errorf("failed to delete bridge %s: %w (output: %s)", bridge, err, output)
	}

	c.logger.Infof("Deleted bridge %s", bridge)
	return nil
}

// AddPort adds a port to an OVS bridge. Keys of options are Interface
// columns ("type", "options:remote_ip") except "tag", which goes to the Port table.
func (c *Client) AddPort(bridge, port string, options map[string]string) error {
	args := []string{"add-port", bridge, port}

	keys := make([]string, 0, len(options))
	for key := range options {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var portOptions []string
	var interfaceOptions []string
	for _, key := range keys {
		if key == "tag" {
			portOptions = append(portOptions, "--", "set", "Port", port, "tag="+options[key])
		} else {
			interfaceOptions = append(interfaceOptions, "--", "set", "Interface", port, key+"="+options[key])
		}
	}
	args = append(args, portOptions...)
	args = append(args, interfaceOptions...)

	c.logger.Debugf("Adding port to OVS: ovs-vsctl %v", args)
	output, err := c.vsctl(args...)
	if err != nil {
		if strings.Contains(output, "already exists") {
			c.logger.Warnf("Port %s already exists on bridge %s", port, bridge)
			return nil
		}
		return fmt.Errorf("failed to add port %s to bridge %s: %w (output: %s)", port, bridge, err, output)
	}

	c.logger.Infof("Added port %s to bridge %s", port, bridge)
	return nil
}

// DeletePort removes a port from an OVS bridge
func (c *Client) DeletePort(bridge, port string) error {
	output, err := c.vsctl("--if-exists", "del-port", bridge, port)
	if err != nil {
		return fmt.Errorf("failed to delete port %s from bridge %s: %w (output: %s)", port, bridge, err, output)
	}

	c.logger.Infof("Deleted port %s from bridge %s", port, bridge)
	return nil
}

// AddGRETunnel adds a GRE port towards remoteIP
func (c *Client) AddGRETunnel(bridge, port, remoteIP string) error {
	return c.AddPort(bridge, port, map[string]string{
		"type":              "gre",
		"options:remote_ip": remoteIP,
	})
}

// SetController points a bridge at an OpenFlow controller ("tcp:10.0.0.1:6633")
// and switches it to secure fail mode
func (c *Client) SetController(bridge, target string) error {
	output, err := c.vsctl("set-controller", bridge, target, "--", "set", "bridge", bridge, "fail-mode=secure")
	if err != nil {
		return fmt.Errorf("failed to set controller %s on bridge %s: %w (output: %s)", target, bridge, err, output)
	}

	c.logger.Infof("Bridge %s now uses controller %s", bridge, target)
	return nil
}

// AddFlow installs a flow rule through ovs-ofctl
func (c *Client) AddFlow(bridge, flow string) error {
	output, err := c.run("ovs-ofctl", "add-flow", bridge, flow)
	if err != nil {
		return fmt.Errorf("failed to add flow %q to bridge %s: %w (output: %s)", flow, bridge, err, string(output))
	}

	c.logger.Infof("Added flow %q to bridge %s", flow, bridge)
	return nil
}

func splitLines(output string) []string {
	lines := []string{}
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
