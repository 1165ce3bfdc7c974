package topology

import "fmt"

// Node is the handle an Engine returns for an instantiated switch or host
type Node interface {
	NodeName() string
}

// Engine is the emulation backend the compiler drives.
// Implementations must not be handed edges whose endpoints they did not create.
type Engine interface {
	CreateSwitchNode(name, dpid string) (Node, error)
	CreateHostNode(name, ip, mac string) (Node, error)
	CreateEdge(a, b Node) error
}

// ControllerRegistrar is implemented by engines whose switches can point at a remote controller
type ControllerRegistrar interface {
	RegisterController(ip string, port int) error
}

// CheckController rejects controller endpoints no switch could connect to
func CheckController(address string, port int) error {
	if address == "" {
		return fmt.Errorf("controller address must not be empty")
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("controller port %d out of range 1-65535", port)
	}
	return nil
}
