package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/CGaul/cloud-federation/pkg/types"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes the environment overrides, e.g. CLOUDFED_OFC_IP
	EnvPrefix = "CLOUDFED"

	DefaultPreset   = "cloud1-ovx"
	DefaultStateDir = "/var/run/cloud-federation"

	flagControllerAddress = "ofc_ip"
	flagControllerPort    = "ofc_port"
	flagTopology          = "topology"
	flagPreset            = "preset"
	flagStateDir          = "state-dir"
	flagDryRun            = "dry-run"
	flagKeep              = "keep"
	flagDebug             = "debug"
)

// ArgumentParseError reports malformed command line flags. The CLI exits with status 2 on it.
type ArgumentParseError struct {
	Flag   string
	Value  string
	Reason string
	Err    error
}

func (e *ArgumentParseError) Error() string {
	switch {
	case e.Err != nil && e.Flag == "":
		return fmt.Sprintf("parsing error of command parameters: %v", e.Err)
	case e.Err != nil:
		return fmt.Sprintf("parsing error of --%s: %v", e.Flag, e.Err)
	default:
		return fmt.Sprintf("parsing error of --%s=%q: %s", e.Flag, e.Value, e.Reason)
	}
}

func (e *ArgumentParseError) Unwrap() error { return e.Err }

// Settings is the resolved command line and environment configuration
type Settings struct {
	ControllerAddress  string // OpenFlow controller address
	ControllerPort     int    // OpenFlow controller port
	ControllerExplicit bool   // Controller was given by flag or environment
	TopologyPath       string // Topology file, overrides Preset
	Preset             string // Built-in topology name
	StateDir           string // Where realized topologies are recorded
	DryRun             bool   // Compile only, do not touch the host
	Keep               bool   // Leave the topology running on exit
	Debug              bool
}

// BindFlags registers the CLI flags on fs
func BindFlags(fs *pflag.FlagSet) {
	fs.StringP(flagControllerAddress, "i", types.DefaultControllerAddress, "IP address of the OpenFlow controller")
	fs.StringP(flagControllerPort, "p", strconv.Itoa(types.DefaultControllerPort), "Port of the OpenFlow controller")
	fs.StringP(flagTopology, "t", "", "Topology file (.yaml, .yml or .json)")
	fs.String(flagPreset, DefaultPreset, "Built-in topology used when no file is given")
	fs.String(flagStateDir, DefaultStateDir, "Directory recording realized topologies")
	fs.Bool(flagDryRun, false, "Compile the topology without creating anything")
	fs.Bool(flagKeep, false, "Keep the topology running when the command exits")
	fs.Bool(flagDebug, false, "Enable debug logging")
}

// FromFlags resolves Settings from parsed flags, falling back to CLOUDFED_* environment variables
func FromFlags(fs *pflag.FlagSet) (*Settings, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, &ArgumentParseError{Err: err}
	}

	s := &Settings{
		ControllerAddress: stripQuotes(v.GetString(flagControllerAddress)),
		TopologyPath:      v.GetString(flagTopology),
		Preset:            v.GetString(flagPreset),
		StateDir:          v.GetString(flagStateDir),
		DryRun:            v.GetBool(flagDryRun),
		Keep:              v.GetBool(flagKeep),
		Debug:             v.GetBool(flagDebug),
	}

	if s.ControllerAddress == "" {
		return nil, &ArgumentParseError{Flag: flagControllerAddress, Value: s.ControllerAddress, Reason: "must not be empty"}
	}

	rawPort := stripQuotes(v.GetString(flagControllerPort))
	port, err := strconv.Atoi(rawPort)
	if err != nil || port < 1 || port > 65535 {
		return nil, &ArgumentParseError{Flag: flagControllerPort, Value: rawPort, Reason: "must be a port number between 1 and 65535"}
	}
	s.ControllerPort = port

	s.ControllerExplicit = fs.Changed(flagControllerAddress) || fs.Changed(flagControllerPort) ||
		envSet(flagControllerAddress) || envSet(flagControllerPort)

	if s.TopologyPath != "" {
		if _, err := FormatFromPath(s.TopologyPath); err != nil {
			return nil, &ArgumentParseError{Flag: flagTopology, Value: s.TopologyPath, Reason: err.Error()}
		}
	}
	if s.StateDir == "" {
		s.StateDir = DefaultStateDir
	}
	s.StateDir = filepath.Clean(s.StateDir)

	return s, nil
}

// LoadTopology returns the topology the settings point at, file first, preset otherwise
func (s *Settings) LoadTopology() (*types.Topology, error) {
	if s.TopologyPath != "" {
		return LoadTopology(s.TopologyPath)
	}
	return Preset(s.Preset)
}

// ResolveController decides which controller the switches are pointed at.
// Explicit flags win, then the topology's own controller with blanks filled
// from the settings. A topology without a controller section gets none.
func (s *Settings) ResolveController(t *types.Topology) *types.Controller {
	if s.ControllerExplicit {
		return &types.Controller{Address: s.ControllerAddress, Port: s.ControllerPort}
	}
	if t.Controller == nil {
		return nil
	}
	c := *t.Controller
	if c.Address == "" {
		c.Address = s.ControllerAddress
	}
	if c.Port == 0 {
		c.Port = s.ControllerPort
	}
	return &c
}

func stripQuotes(s string) string {
	return strings.NewReplacer("'", "", "\"", "").Replace(strings.TrimSpace(s))
}

func envSet(flag string) bool {
	key := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
	_, ok := os.LookupEnv(key)
	return ok
}
