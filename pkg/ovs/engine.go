package ovs

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/CGaul/cloud-federation/pkg/store"
	"github.com/CGaul/cloud-federation/pkg/topology"
	"github.com/CGaul/cloud-federation/pkg/types"
	"github.com/sirupsen/logrus"
)

const (
	switchNodeKind = "switch"
	hostNodeKind   = "host"
)

// node is the handle Engine returns for bridges and namespaces
type node struct {
	kind string
	name string
	ip   string
	mac  string
}

// NodeName implements topology.Node
func (n *node) NodeName() string { return n.name }

// Engine realizes a topology on Open vSwitch. Switches become bridges, hosts
// become named network namespaces and edges become veth pairs.
type Engine struct {
	client    *Client
	netdev    Netdev
	store     *store.Store
	name      string
	prefixLen int
	logger    *logrus.Logger

	nodes    map[string]*node
	bridges  []string
	nextPort map[string]int
}

// NewEngine creates an engine recording everything it creates for topologyName in st
func NewEngine(client *Client, netdev Netdev, st *store.Store, topologyName string, prefixLen int, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.GetLevel())
	}
	if prefixLen <= 0 || prefixLen > 32 {
		prefixLen = types.DefaultPrefixLen
	}
	return &Engine{
		client:    client,
		netdev:    netdev,
		store:     st,
		name:      topologyName,
		prefixLen: prefixLen,
		logger:    logger,
		nodes:     make(map[string]*node),
		nextPort:  make(map[string]int),
	}
}

// Preflight fails when a switch of t would reuse a bridge that already exists on the host
func (e *Engine) Preflight(t *types.Topology) error {
	existing, err := e.client.ListBridges()
	if err != nil {
		return err
	}
	var taken []string
	for _, br := range existing {
		if _, ok := t.Switch(br); ok {
			taken = append(taken, br)
		}
	}
	if len(taken) > 0 {
		return fmt.Errorf("bridges %s already exist and are not owned by topology %s: %w",
			strings.Join(taken, ", "), t.Name, ErrBridgeExists)
	}
	return nil
}

// CreateSwitchNode implements topology.Engine
func (e *Engine) CreateSwitchNode(name, dpid string) (topology.Node, error) {
	if _, exists := e.nodes[name]; exists {
		return nil, fmt.Errorf("node %s already exists", name)
	}
	if err := e.client.CreateBridge(name, dpid); err != nil {
		if errors.Is(err, ErrBridgeExists) {
			return nil, fmt.Errorf("bridge %s is not owned by topology %s: %w", name, e.name, err)
		}
		return nil, err
	}
	if err := e.record(func(s *store.TopologyState) { s.Bridges = append(s.Bridges, name) }); err != nil {
		return nil, err
	}

	n := &node{kind: switchNodeKind, name: name}
	e.nodes[name] = n
	e.bridges = append(e.bridges, name)
	// Port 0 is the bridge's own local interface
	e.nextPort[name] = 1
	return n, nil
}

// CreateHostNode implements topology.Engine
func (e *Engine) CreateHostNode(name, ip, mac string) (topology.Node, error) {
	if _, exists := e.nodes[name]; exists {
		return nil, fmt.Errorf("node %s already exists", name)
	}
	if err := e.netdev.CreateNamespace(name); err != nil {
		return nil, err
	}
	if err := e.record(func(s *store.TopologyState) { s.Namespaces = append(s.Namespaces, name) }); err != nil {
		return nil, err
	}

	n := &node{kind: hostNodeKind, name: name, ip: ip, mac: mac}
	e.nodes[name] = n
	e.nextPort[name] = 0
	return n, nil
}

// CreateEdge implements topology.Engine
func (e *Engine) CreateEdge(a, b topology.Node) error {
	if a == nil || b == nil {
		return fmt.Errorf("edge endpoint missing")
	}
	na, ok := e.nodes[a.NodeName()]
	if !ok {
		return fmt.Errorf("node %s was not created by this engine", a.NodeName())
	}
	nb, ok := e.nodes[b.NodeName()]
	if !ok {
		return fmt.Errorf("node %s was not created by this engine", b.NodeName())
	}

	endA, endB := e.portName(na), e.portName(nb)
	if err := e.netdev.CreateVethPair(endA, endB); err != nil {
		return err
	}
	if err := e.record(func(s *store.TopologyState) {
		s.Veths = append(s.Veths, store.VethInfo{Name: endA, Peer: endB})
	}); err != nil {
		return err
	}

	if err := e.attach(na, endA); err != nil {
		return err
	}
	return e.attach(nb, endB)
}

// RegisterController implements topology.ControllerRegistrar
func (e *Engine) RegisterController(address string, port int) error {
	if err := topology.CheckController(address, port); err != nil {
		return err
	}
	ip, err := resolveController(address)
	if err != nil {
		return err
	}
	target := controllerTarget(ip, port)
	for _, br := range e.bridges {
		if err := e.client.SetController(br, target); err != nil {
			return err
		}
	}
	return e.record(func(s *store.TopologyState) {
		s.ControllerIP = ip
		s.ControllerPort = port
	})
}

// Apply adds the per switch extras of t: physical interfaces, GRE tunnels and flow rules
func (e *Engine) Apply(t *types.Topology) error {
	if len(t.Switches) != len(e.bridges) {
		return fmt.Errorf("topology %s declares %d switches, %d were built", t.Name, len(t.Switches), len(e.bridges))
	}
	for _, name := range e.bridges {
		sw, ok := t.Switch(name)
		if !ok {
			return fmt.Errorf("switch %s is not declared by topology %s", name, t.Name)
		}
		log := e.logger.WithField("switch", sw.Name)

		for _, iface := range sw.Interfaces {
			log.WithField("interface", iface).Info("Adding physical interface")
			if err := e.addPort(sw.Name, iface, nil); err != nil {
				return err
			}
		}
		for _, tun := range sw.Tunnels {
			log.WithFields(logrus.Fields{"port": tun.Port, "remote_ip": tun.RemoteIP}).Info("Adding GRE tunnel")
			if err := e.client.AddGRETunnel(sw.Name, tun.Port, tun.RemoteIP); err != nil {
				return err
			}
			if err := e.record(func(s *store.TopologyState) { s.Ports = append(s.Ports, sw.Name+":"+tun.Port) }); err != nil {
				return err
			}
		}
		for _, flow := range sw.Flows {
			if err := e.client.AddFlow(sw.Name, flow); err != nil {
				return err
			}
		}
	}
	return nil
}

// Teardown removes everything this engine recorded
func (e *Engine) Teardown() error {
	return Teardown(e.client, e.netdev, e.store, e.name, e.logger)
}

func (e *Engine) portName(n *node) string {
	i := e.nextPort[n.name]
	e.nextPort[n.name] = i + 1
	return n.name + "-eth" + strconv.Itoa(i)
}

func (e *Engine) attach(n *node, end string) error {
	if n.kind == switchNodeKind {
		return e.client.AddPort(n.name, end, nil)
	}

	if err := e.netdev.MoveToNamespace(end, n.name); err != nil {
		return err
	}
	cidr := ""
	if n.ip != "" && n.ip != topology.UnspecifiedAddress {
		cidr = n.ip + "/" + strconv.Itoa(e.prefixLen)
	}
	mac := ""
	if n.mac != "" {
		mac = topology.ColonMAC(n.mac)
	}
	return e.netdev.ConfigureLink(n.name, end, mac, cidr)
}

func (e *Engine) addPort(bridge, port string, options map[string]string) error {
	if err := e.client.AddPort(bridge, port, options); err != nil {
		return err
	}
	return e.record(func(s *store.TopologyState) { s.Ports = append(s.Ports, bridge+":"+port) })
}

func (e *Engine) record(fn func(*store.TopologyState)) error {
	if err := e.store.Update(e.name, fn); err != nil {
		return fmt.Errorf("failed to record state of %s: %w", e.name, err)
	}
	return nil
}

// Teardown deletes the ports, veths, namespaces and bridges recorded for name,
// then forgets the topology. Every object is attempted; failures are joined.
func Teardown(client *Client, netdev Netdev, st *store.Store, name string, logger *logrus.Logger) error {
	state, err := st.GetTopology(name)
	if err != nil {
		return err
	}
	log := logger.WithField("topology", name)
	log.Info("Tearing down topology")

	var errs []error
	keep := func(err error) {
		if err != nil {
			log.Warn(err)
			errs = append(errs, err)
		}
	}

	for _, p := range state.Ports {
		bridge, port, ok := splitPort(p)
		if !ok {
			keep(fmt.Errorf("malformed port record %q", p))
			continue
		}
		keep(client.DeletePort(bridge, port))
	}
	for _, v := range state.Veths {
		keep(netdev.DeleteVethPair(v.Name, v.Peer))
	}
	for _, ns := range state.Namespaces {
		keep(netdev.DeleteNamespace(ns))
	}
	owned := make(map[string]bool)
	for _, v := range state.Veths {
		owned[v.Name], owned[v.Peer] = true, true
	}
	for _, p := range state.Ports {
		if _, port, ok := splitPort(p); ok {
			owned[port] = true
		}
	}
	for _, br := range state.Bridges {
		reportForeignPorts(client, br, owned, log)
		keep(client.DeleteBridge(br))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return st.DeleteTopology(name)
}

// reportForeignPorts warns about ports on bridge that the topology did not add
func reportForeignPorts(client *Client, bridge string, owned map[string]bool, log logrus.FieldLogger) {
	ports, err := client.ListPorts(bridge)
	if err != nil {
		log.Debugf("Could not list ports of %s: %v", bridge, err)
		return
	}
	var foreign []string
	for _, p := range ports {
		if !owned[p] {
			foreign = append(foreign, p)
		}
	}
	if len(foreign) > 0 {
		log.WithFields(logrus.Fields{"bridge": bridge, "ports": strings.Join(foreign, ",")}).Warn("Removing bridge that carries ports not created by this topology")
	}
}

// ControllerTarget returns the ovs-vsctl target for a controller, "tcp:127.0.0.1:6633"
func ControllerTarget(address string, port int) (string, error) {
	if err := topology.CheckController(address, port); err != nil {
		return "", err
	}
	ip, err := resolveController(address)
	if err != nil {
		return "", err
	}
	return controllerTarget(ip, port), nil
}

func controllerTarget(ip string, port int) string {
	return "tcp:" + net.JoinHostPort(ip, strconv.Itoa(port))
}

// resolveController turns a controller host into the IP address ovs-vsctl expects in tcp: targets
func resolveController(address string) (string, error) {
	if address == "localhost" {
		return "127.0.0.1", nil
	}
	if ip := net.ParseIP(address); ip != nil {
		return ip.String(), nil
	}
	ips, err := net.LookupIP(address)
	if err != nil {
		return "", fmt.Errorf("failed to resolve controller address %s: %w", address, err)
	}
	if len(ips) == 0 {
		return "", fmt.Errorf("controller address %s resolves to nothing", address)
	}
	for _, ip := range ips {
		if ip.To4() != nil {
			return ip.String(), nil
		}
	}
	return ips[0].String(), nil
}

func splitPort(record string) (string, string, bool) {
	bridge, port, ok := strings.Cut(record, ":")
	return bridge, port, ok && bridge != "" && port != ""
}
