package topology

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/CGaul/cloud-federation/pkg/types"
)

const (
	// MACHexLen is the width of a normalized MAC address
	MACHexLen = 12
	// DPIDHexLen is the width of a normalized OpenFlow datapath ID
	DPIDHexLen = 16
)

var (
	colonHexPattern = regexp.MustCompile(`^[0-9A-Fa-f]{2}(:[0-9A-Fa-f]{2})*$`)
	plainHexPattern = regexp.MustCompile(`^[0-9A-Fa-f]+$`)
)

// NormalizeIdentifier strips the colon separators from a MAC or DPID.
// Already normalized input of the right width is returned as is.
func NormalizeIdentifier(raw string, expectedHexLen int) (string, error) {
	s := strings.TrimSpace(raw)

	if strings.Contains(s, ":") {
		if !colonHexPattern.MatchString(s) {
			return "", &MalformedIdentifierError{Raw: raw, ExpectedLen: expectedHexLen, Reason: "not a sequence of colon separated hex octets"}
		}
	} else if !plainHexPattern.MatchString(s) {
		return "", &MalformedIdentifierError{Raw: raw, ExpectedLen: expectedHexLen, Reason: "contains non hex characters"}
	}

	normalized := strings.ReplaceAll(s, ":", "")
	if len(normalized) != expectedHexLen {
		return "", &MalformedIdentifierError{
			Raw:         raw,
			ExpectedLen: expectedHexLen,
			Reason:      fmt.Sprintf("got %d hex digits", len(normalized)),
		}
	}
	return normalized, nil
}

// NormalizeMAC normalizes a host MAC address
func NormalizeMAC(mac types.IdentifierSpec) (string, error) {
	return NormalizeIdentifier(string(mac), MACHexLen)
}

// NormalizeDPID normalizes a switch datapath ID
func NormalizeDPID(dpid types.IdentifierSpec) (string, error) {
	return NormalizeIdentifier(string(dpid), DPIDHexLen)
}

// ColonMAC renders a normalized 12 digit MAC in the colon form netlink and ip(8) expect
func ColonMAC(normalized string) string {
	if len(normalized) != MACHexLen {
		return normalized
	}
	octets := make([]string, 0, MACHexLen/2)
	for i := 0; i < len(normalized); i += 2 {
		octets = append(octets, normalized[i:i+2])
	}
	return strings.Join(octets, ":")
}
