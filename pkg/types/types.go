package types

const (
	// DefaultControllerAddress is used when no OpenFlow controller address is given
	DefaultControllerAddress = "localhost"
	// DefaultControllerPort is the classic OpenFlow controller port
	DefaultControllerPort = 6633
	// DefaultPrefixLen is applied to host addresses when a topology does not set one
	DefaultPrefixLen = 24
)

// AddressSpec is either an absolute dotted-quad IPv4 address ("10.0.2.1")
// or an offset ("+5") replacing the last octet of the topology base network
type AddressSpec string

// IdentifierSpec is a human readable MAC address or datapath ID ("00:00:00:00:00:11")
type IdentifierSpec string

// Controller describes the remote OpenFlow controller the switches point at
type Controller struct {
	Address string `json:"address" yaml:"address"` // Controller IP or hostname
	Port    int    `json:"port" yaml:"port"`       // Controller TCP port
}

// HostSpec declares one emulated host
type HostSpec struct {
	Name string         `json:"name" yaml:"name"` // Unique host name
	IP   AddressSpec    `json:"ip" yaml:"ip"`     // Absolute address or offset of the base network
	MAC  IdentifierSpec `json:"mac" yaml:"mac"`   // Colon delimited MAC address
}

// TunnelSpec declares a GRE port added to a switch after the topology is up
type TunnelSpec struct {
	Port     string `json:"port" yaml:"port"`           // OVS port name (e.g. GW-gre1)
	RemoteIP string `json:"remote_ip" yaml:"remote_ip"` // Tunnel endpoint on the peer cloud
}

// SwitchSpec declares one emulated switch and everything attached to it
type SwitchSpec struct {
	Name       string         `json:"name" yaml:"name"`                                 // Unique switch name
	DPID       IdentifierSpec `json:"dpid" yaml:"dpid"`                                 // Colon delimited datapath ID
	Hosts      []string       `json:"hosts,omitempty" yaml:"hosts,omitempty"`           // Names of attached hosts
	Links      []string       `json:"links,omitempty" yaml:"links,omitempty"`           // Names of adjacent switches
	Interfaces []string       `json:"interfaces,omitempty" yaml:"interfaces,omitempty"` // Physical interfaces added as ports
	Tunnels    []TunnelSpec   `json:"tunnels,omitempty" yaml:"tunnels,omitempty"`       // GRE tunnels to other clouds
	Flows      []string       `json:"flows,omitempty" yaml:"flows,omitempty"`           // ovs-ofctl flow definitions
}

// Topology is the full declarative description of one emulated network
type Topology struct {
	Name        string       `json:"name" yaml:"name"`                                 // Topology identifier, also the state file name
	BaseNetwork string       `json:"base_network" yaml:"base_network"`                 // Network used to resolve host offsets
	PrefixLen   int          `json:"prefix_len,omitempty" yaml:"prefix_len,omitempty"` // Host address prefix length
	Controller  *Controller  `json:"controller,omitempty" yaml:"controller,omitempty"` // Remote controller, nil for none
	Switches    []SwitchSpec `json:"switches" yaml:"switches"`                         // Switches in declaration order
	Hosts       []HostSpec   `json:"hosts" yaml:"hosts"`                               // Host table
}

// Switch returns the switch declared with the given name
func (t *Topology) Switch(name string) (*SwitchSpec, bool) {
	for i := range t.Switches {
		if t.Switches[i].Name == name {
			return &t.Switches[i], true
		}
	}
	return nil, false
}

// EffectivePrefixLen returns the configured prefix length or the default
func (t *Topology) EffectivePrefixLen() int {
	if t.PrefixLen <= 0 || t.PrefixLen > 32 {
		return DefaultPrefixLen
	}
	return t.PrefixLen
}
