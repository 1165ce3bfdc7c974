package topology

import (
	"fmt"
	"sort"

	"github.com/CGaul/cloud-federation/pkg/types"
	"github.com/sirupsen/logrus"
)

// Compiler turns a declarative topology into nodes and edges on an Engine
type Compiler struct {
	engine Engine
	logger logrus.FieldLogger
}

// NewCompiler creates a compiler driving the given engine
func NewCompiler(engine Engine, logger logrus.FieldLogger) *Compiler {
	if logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.GetLevel())
		logger = l
	}
	return &Compiler{
		engine: engine,
		logger: logger,
	}
}

type plannedHost struct {
	name string
	ip   string
	mac  string
}

type plannedSwitch struct {
	name  string
	dpid  string
	hosts []plannedHost
}

type plannedLink struct {
	a, b string
}

// plan is a fully validated topology; realizing it needs no further checks
type plan struct {
	name     string
	switches []plannedSwitch
	links    []plannedLink
	cyclic   bool
	orphans  []string // Hosts no switch attaches
}

// Build validates the whole topology first and only then instantiates it.
// Switches and their hosts are created in declaration order, backbone links
// are wired once every switch exists. No graph is returned on failure.
func (c *Compiler) Build(t *types.Topology) (*Graph, error) {
	if t == nil {
		return nil, fmt.Errorf("no topology given")
	}

	p, err := compile(t)
	if err != nil {
		return nil, err
	}

	log := c.logger.WithField("topology", p.name)
	if p.cyclic {
		log.Warn("Switch links contain a loop, the controller must handle it")
	}
	for _, name := range p.orphans {
		log.WithField("host", name).Warn("Host is not attached to any switch, skipping")
	}

	g := newGraph(p.name)

	for _, sw := range p.switches {
		log.WithFields(logrus.Fields{"switch": sw.name, "dpid": sw.dpid}).Info("Adding switch to network")
		swNode, err := c.engine.CreateSwitchNode(sw.name, sw.dpid)
		if err != nil {
			return nil, fmt.Errorf("failed to create switch %s: %w", sw.name, err)
		}
		g.Switches[sw.name] = SwitchNode{Name: sw.name, DPID: sw.dpid, Handle: swNode}
		g.SwitchOrder = append(g.SwitchOrder, sw.name)

		for _, h := range sw.hosts {
			log.WithFields(logrus.Fields{
				"switch": sw.name,
				"host":   h.name,
				"ip":     h.ip,
				"mac":    h.mac,
			}).Info("Adding host to switch")

			hostNode, err := c.engine.CreateHostNode(h.name, h.ip, h.mac)
			if err != nil {
				return nil, fmt.Errorf("failed to create host %s: %w", h.name, err)
			}
			if err := c.engine.CreateEdge(hostNode, swNode); err != nil {
				return nil, fmt.Errorf("failed to link host %s to switch %s: %w", h.name, sw.name, err)
			}
			g.Hosts[h.name] = HostNode{Name: h.name, Switch: sw.name, IP: h.ip, MAC: h.mac, Handle: hostNode}
			g.HostOrder = append(g.HostOrder, h.name)
			g.Links = append(g.Links, Link{A: h.name, B: sw.name, Kind: HostLink})
		}
	}

	if len(p.links) > 0 {
		log.Info("Adding bi-directional links between switches")
	}
	for _, l := range p.links {
		log.Debugf("Connecting switch %s with switch %s", l.a, l.b)
		if err := c.engine.CreateEdge(g.Switches[l.a].Handle, g.Switches[l.b].Handle); err != nil {
			return nil, fmt.Errorf("failed to link switch %s to switch %s: %w", l.a, l.b, err)
		}
		g.Links = append(g.Links, Link{A: l.a, B: l.b, Kind: SwitchLink})
	}

	log.WithFields(logrus.Fields{
		"switches": len(g.Switches),
		"hosts":    len(g.Hosts),
		"links":    len(g.Links),
	}).Info("Topology built")
	return g, nil
}

// BuildGraph builds a graph from bare tables. Host map keys are the host names.
func BuildGraph(engine Engine, switches []types.SwitchSpec, hosts map[string]types.HostSpec, baseNetwork string) (*Graph, error) {
	names := make([]string, 0, len(hosts))
	for name := range hosts {
		names = append(names, name)
	}
	sort.Strings(names)

	t := &types.Topology{
		BaseNetwork: baseNetwork,
		Switches:    switches,
		Hosts:       make([]types.HostSpec, 0, len(hosts)),
	}
	for _, name := range names {
		h := hosts[name]
		h.Name = name
		t.Hosts = append(t.Hosts, h)
	}
	return NewCompiler(engine, nil).Build(t)
}

// Validate runs every check Build runs without touching an engine
func Validate(t *types.Topology) error {
	_, err := compile(t)
	return err
}

func compile(t *types.Topology) (*plan, error) {
	p := &plan{name: t.Name}

	switchNames := make([]string, 0, len(t.Switches))
	seenSwitch := make(map[string]bool, len(t.Switches))
	for i, sw := range t.Switches {
		if sw.Name == "" {
			return nil, fmt.Errorf("switch #%d: %w", i+1, ErrEmptyName)
		}
		if seenSwitch[sw.Name] {
			return nil, &DuplicateNameError{Kind: "switch", Name: sw.Name}
		}
		seenSwitch[sw.Name] = true
		switchNames = append(switchNames, sw.Name)
	}

	hostTable := make(map[string]types.HostSpec, len(t.Hosts))
	for i, h := range t.Hosts {
		if h.Name == "" {
			return nil, fmt.Errorf("host #%d: %w", i+1, ErrEmptyName)
		}
		if _, dup := hostTable[h.Name]; dup {
			return nil, &DuplicateNameError{Kind: "host", Name: h.Name}
		}
		if seenSwitch[h.Name] {
			return nil, &DuplicateNameError{Kind: "node", Name: h.Name}
		}
		hostTable[h.Name] = h
	}

	attached := make(map[string]string)
	for _, sw := range t.Switches {
		dpid, err := NormalizeDPID(sw.DPID)
		if err != nil {
			return nil, fmt.Errorf("switch %s: %w", sw.Name, err)
		}
		ps := plannedSwitch{name: sw.Name, dpid: dpid}

		for _, hostName := range sw.Hosts {
			h, ok := hostTable[hostName]
			if !ok {
				return nil, &UnknownReferenceError{Switch: sw.Name, Kind: "host", Name: hostName}
			}
			if _, dup := attached[hostName]; dup {
				return nil, &DuplicateNameError{Kind: "host attachment", Name: hostName}
			}
			attached[hostName] = sw.Name

			ip, err := ResolveAddress(h.IP, t.BaseNetwork)
			if err != nil {
				return nil, fmt.Errorf("host %s: %w", hostName, err)
			}
			mac, err := NormalizeMAC(h.MAC)
			if err != nil {
				return nil, fmt.Errorf("host %s: %w", hostName, err)
			}
			ps.hosts = append(ps.hosts, plannedHost{name: hostName, ip: ip, mac: mac})
		}
		p.switches = append(p.switches, ps)
	}

	adj := newSwitchAdjacency(switchNames)
	for _, sw := range t.Switches {
		for _, peer := range sw.Links {
			if !seenSwitch[peer] {
				return nil, &UnknownReferenceError{Switch: sw.Name, Kind: "switch", Name: peer}
			}
			if peer == sw.Name {
				return nil, &SelfLinkError{Switch: sw.Name}
			}
			// A->B and B->A describe the same cable
			if adj.add(sw.Name, peer) {
				p.links = append(p.links, plannedLink{a: sw.Name, b: peer})
			}
		}
	}

	if groups := adj.components(); len(groups) > 1 {
		return nil, &DisconnectedTopologyError{Components: groups}
	}
	p.cyclic = adj.hasCycle(len(p.links))

	for _, h := range t.Hosts {
		if _, ok := attached[h.Name]; !ok {
			p.orphans = append(p.orphans, h.Name)
		}
	}

	return p, nil
}
