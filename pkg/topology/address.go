package topology

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/CGaul/cloud-federation/pkg/types"
)

// UnspecifiedAddress marks a host that obtains its address elsewhere (DHCP)
const UnspecifiedAddress = "0.0.0.0"

var (
	dottedQuadPattern     = regexp.MustCompile(`[0-9]+(?:\.[0-9]+){3}`)
	fullDottedQuadPattern = regexp.MustCompile(`^[0-9]+(?:\.[0-9]+){3}$`)
	offsetPattern         = regexp.MustCompile(`^([+-]?)([0-9]+)$`)
)

// ResolveAddress turns a host AddressSpec into a dotted quad.
//
// An offset ("+N") keeps the first three octets of baseNetwork and uses N as
// the last octet. Anything else must contain a dotted quad; the first one
// found is returned and trailing content is dropped.
func ResolveAddress(spec types.AddressSpec, baseNetwork string) (string, error) {
	s := strings.TrimSpace(string(spec))

	if m := offsetPattern.FindStringSubmatch(s); m != nil {
		if m[1] == "-" {
			return "", &InvalidAddressError{Spec: string(spec), BaseNetwork: baseNetwork, Reason: "negative offsets leave the last octet out of range"}
		}
		n, err := strconv.Atoi(m[2])
		if err != nil || n > 255 {
			return "", &InvalidAddressError{Spec: string(spec), BaseNetwork: baseNetwork, Reason: "offset must be within [0,255]"}
		}
		prefix, err := networkPrefix(baseNetwork)
		if err != nil {
			return "", &InvalidAddressError{Spec: string(spec), BaseNetwork: baseNetwork, Reason: err.Error()}
		}
		return prefix + "." + strconv.Itoa(n), nil
	}

	quad := dottedQuadPattern.FindString(s)
	if quad == "" {
		return "", &InvalidAddressError{Spec: string(spec), Reason: "neither a dotted quad nor an offset"}
	}
	if reason := checkOctets(quad); reason != "" {
		return "", &InvalidAddressError{Spec: string(spec), Reason: reason}
	}
	return quad, nil
}

// ValidateNetwork checks that a base network is a plain dotted quad
func ValidateNetwork(baseNetwork string) error {
	if _, err := networkPrefix(baseNetwork); err != nil {
		return &InvalidAddressError{Spec: baseNetwork, Reason: err.Error()}
	}
	return nil
}

type addressReason string

func (r addressReason) Error() string { return string(r) }

// networkPrefix returns the first three octets of a dotted quad
func networkPrefix(baseNetwork string) (string, error) {
	base := strings.TrimSpace(baseNetwork)
	if base == "" {
		return "", addressReason("no base network configured for offset addressing")
	}
	if !fullDottedQuadPattern.MatchString(base) {
		return "", addressReason("base network is not a dotted quad")
	}
	if reason := checkOctets(base); reason != "" {
		return "", addressReason("base network " + reason)
	}
	return base[:strings.LastIndex(base, ".")], nil
}

func checkOctets(quad string) string {
	for _, octet := range strings.Split(quad, ".") {
		v, err := strconv.Atoi(octet)
		if err != nil || v > 255 {
			return "octet " + octet + " out of range"
		}
	}
	return ""
}
