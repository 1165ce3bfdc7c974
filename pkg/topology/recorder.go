package topology

import "fmt"

// RecordedNode is the handle returned by a Recorder
type RecordedNode struct {
	Kind string // "switch" or "host"
	Name string
	DPID string
	IP   string
	MAC  string
}

// NodeName implements Node
func (n *RecordedNode) NodeName() string { return n.Name }

// Recorder is an in-memory Engine. It backs dry runs and tests.
type Recorder struct {
	Switches       []*RecordedNode
	Hosts          []*RecordedNode
	Edges          [][2]string
	ControllerIP   string
	ControllerPort int

	nodes map[string]*RecordedNode
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{nodes: make(map[string]*RecordedNode)}
}

// CreateSwitchNode implements Engine
func (r *Recorder) CreateSwitchNode(name, dpid string) (Node, error) {
	if _, exists := r.nodes[name]; exists {
		return nil, fmt.Errorf("node %s already exists", name)
	}
	n := &RecordedNode{Kind: "switch", Name: name, DPID: dpid}
	r.nodes[name] = n
	r.Switches = append(r.Switches, n)
	return n, nil
}

// CreateHostNode implements Engine
func (r *Recorder) CreateHostNode(name, ip, mac string) (Node, error) {
	if _, exists := r.nodes[name]; exists {
		return nil, fmt.Errorf("node %s already exists", name)
	}
	n := &RecordedNode{Kind: "host", Name: name, IP: ip, MAC: mac}
	r.nodes[name] = n
	r.Hosts = append(r.Hosts, n)
	return n, nil
}

// CreateEdge implements Engine
func (r *Recorder) CreateEdge(a, b Node) error {
	if a == nil || b == nil {
		return fmt.Errorf("edge endpoint missing")
	}
	for _, n := range []Node{a, b} {
		if _, ok := r.nodes[n.NodeName()]; !ok {
			return fmt.Errorf("node %s was not created by this engine", n.NodeName())
		}
	}
	r.Edges = append(r.Edges, [2]string{a.NodeName(), b.NodeName()})
	return nil
}

// RegisterController implements ControllerRegistrar
func (r *Recorder) RegisterController(ip string, port int) error {
	if err := CheckController(ip, port); err != nil {
		return err
	}
	r.ControllerIP = ip
	r.ControllerPort = port
	return nil
}
