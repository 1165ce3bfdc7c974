package topology

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels matched with errors.Is. Each typed error below unwraps to one of them.
var (
	ErrMalformedIdentifier = errors.New("malformed identifier")
	ErrInvalidAddress      = errors.New("invalid address")
	ErrUnknownReference    = errors.New("unknown reference")
	ErrDuplicateName       = errors.New("duplicate name")
	ErrDisconnected        = errors.New("disconnected topology")
	ErrSelfLink            = errors.New("switch linked to itself")
	ErrEmptyName           = errors.New("empty name")
)

// MalformedIdentifierError reports a MAC or DPID that cannot be normalized
type MalformedIdentifierError struct {
	Raw         string
	ExpectedLen int
	Reason      string
}

func (e *MalformedIdentifierError) Error() string {
	return fmt.Sprintf("malformed identifier %q (expected %d hex digits): %s", e.Raw, e.ExpectedLen, e.Reason)
}

func (e *MalformedIdentifierError) Unwrap() error { return ErrMalformedIdentifier }

// InvalidAddressError reports a host address that is neither a dotted quad nor a usable offset
type InvalidAddressError struct {
	Spec        string
	BaseNetwork string
	Reason      string
}

func (e *InvalidAddressError) Error() string {
	if e.BaseNetwork != "" {
		return fmt.Sprintf("invalid address %q (base network %q): %s", e.Spec, e.BaseNetwork, e.Reason)
	}
	return fmt.Sprintf("invalid address %q: %s", e.Spec, e.Reason)
}

func (e *InvalidAddressError) Unwrap() error { return ErrInvalidAddress }

// UnknownReferenceError reports a switch that lists a host or peer switch missing from the tables
type UnknownReferenceError struct {
	Switch string // Switch holding the reference
	Kind   string // "host" or "switch"
	Name   string // Referenced name
}

func (e *UnknownReferenceError) Error() string {
	return fmt.Sprintf("switch %s references unknown %s %q", e.Switch, e.Kind, e.Name)
}

func (e *UnknownReferenceError) Unwrap() error { return ErrUnknownReference }

// DuplicateNameError reports a name collision between switches, hosts or host attachments
type DuplicateNameError struct {
	Kind string
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("duplicate %s name %q", e.Kind, e.Name)
}

func (e *DuplicateNameError) Unwrap() error { return ErrDuplicateName }

// DisconnectedTopologyError reports switch groups that are not reachable from each other
type DisconnectedTopologyError struct {
	Components [][]string
}

func (e *DisconnectedTopologyError) Error() string {
	parts := make([]string, 0, len(e.Components))
	for _, c := range e.Components {
		parts = append(parts, "["+strings.Join(c, " ")+"]")
	}
	return fmt.Sprintf("switch links form %d disconnected groups: %s", len(e.Components), strings.Join(parts, ", "))
}

func (e *DisconnectedTopologyError) Unwrap() error { return ErrDisconnected }

// SelfLinkError reports a switch listing itself in its links
type SelfLinkError struct {
	Switch string
}

func (e *SelfLinkError) Error() string {
	return fmt.Sprintf("switch %s lists itself as a link peer", e.Switch)
}

func (e *SelfLinkError) Unwrap() error { return ErrSelfLink }
