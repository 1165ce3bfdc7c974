package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/CGaul/cloud-federation/pkg/config"
	"github.com/CGaul/cloud-federation/pkg/ovs"
	"github.com/CGaul/cloud-federation/pkg/store"
	"github.com/CGaul/cloud-federation/pkg/topology"
	"github.com/CGaul/cloud-federation/pkg/types"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newRootCommand(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:     programName,
		Short:   "Build an emulated SDN cloud on Open vSwitch",
		Long:    "Builds switches, hosts and links of a cloud topology on Open vSwitch and points the switches at an OpenFlow controller.",
		Version: programVersion,
		Example: "  cloud-federation -i 192.168.150.10 -p 6633 --preset cloud1-ovx\n" +
			"  cloud-federation -t lab.yaml --dry-run",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return &config.ArgumentParseError{Err: fmt.Errorf("unexpected argument %q", args[0])}
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := settingsFor(cmd)
			if err != nil {
				return err
			}
			return up(cmd, s, out)
		},
	}

	config.BindFlags(root.PersistentFlags())
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &config.ArgumentParseError{Err: err}
	})

	root.AddCommand(newCleanCommand(out), newPresetsCommand(out))
	return root
}

func settingsFor(cmd *cobra.Command) (*config.Settings, error) {
	s, err := config.FromFlags(cmd.Flags())
	if err != nil {
		return nil, err
	}
	if s.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}
	return s, nil
}

// up builds the topology, keeps it running until the context ends and tears it down
func up(cmd *cobra.Command, s *config.Settings, out io.Writer) error {
	logger := logrus.StandardLogger()

	topo, err := s.LoadTopology()
	if err != nil {
		return err
	}
	controller := s.ResolveController(topo)
	logger.WithFields(logrus.Fields{"topology": topo.Name, "dry_run": s.DryRun}).Infof("Starting %s version %s", programName, programVersion)

	if s.DryRun {
		rec := topology.NewRecorder()
		g, err := topology.NewCompiler(rec, logger).Build(topo)
		if err != nil {
			return err
		}
		if controller != nil {
			if err := rec.RegisterController(controller.Address, controller.Port); err != nil {
				return err
			}
		}
		return printSummary(out, g, controller)
	}

	client, err := ovs.NewClient()
	if err != nil {
		return fmt.Errorf("failed to create OVS client: %w", err)
	}
	if err := client.Ping(); err != nil {
		return err
	}
	st, err := store.NewStore(s.StateDir)
	if err != nil {
		return err
	}
	if _, err := st.GetTopology(topo.Name); err == nil {
		return fmt.Errorf("topology %s is already running, run '%s clean %s' first", topo.Name, programName, topo.Name)
	}

	netdev := ovs.NewKernelNetdev(logger)
	engine := ovs.NewEngine(client, netdev, st, topo.Name, topo.EffectivePrefixLen(), logger)
	if err := engine.Preflight(topo); err != nil {
		return err
	}

	g, err := topology.NewCompiler(engine, logger).Build(topo)
	if err == nil && controller != nil {
		logger.WithField("controller", fmt.Sprintf("%s:%d", controller.Address, controller.Port)).Info("Adding remote controller")
		err = engine.RegisterController(controller.Address, controller.Port)
	}
	if err == nil {
		err = engine.Apply(topo)
	}
	if err != nil {
		discard(engine, st, topo.Name, logger)
		return err
	}

	if err := printSummary(out, g, controller); err != nil {
		return err
	}
	if s.Keep {
		logger.Infof("Leaving topology %s running", topo.Name)
		return nil
	}

	logger.Info("Topology is up, press Ctrl-C to tear it down")
	<-cmd.Context().Done()
	return engine.Teardown()
}

// discard removes whatever a failed build left behind
func discard(engine *ovs.Engine, st *store.Store, name string, logger *logrus.Logger) {
	if _, err := st.GetTopology(name); err != nil {
		return
	}
	if err := engine.Teardown(); err != nil {
		logger.Warnf("Failed to clean up after failed build: %v", err)
	}
}

func newCleanCommand(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:     "clean [topology...]",
		Short:   "Tear down recorded topologies",
		Long:    "Tears down the named topologies, or every recorded topology when none is named.",
		Example: "  cloud-federation clean cloud1-ovx",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := settingsFor(cmd)
			if err != nil {
				return err
			}
			logger := logrus.StandardLogger()

			st, err := store.NewStore(s.StateDir)
			if err != nil {
				return err
			}
			names := args
			if len(names) == 0 {
				for _, state := range st.ListTopologies() {
					names = append(names, state.Name)
				}
			}
			if len(names) == 0 {
				fmt.Fprintln(out, "No topologies recorded")
				return nil
			}

			client, err := ovs.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create OVS client: %w", err)
			}
			netdev := ovs.NewKernelNetdev(logger)

			var failed []string
			for _, name := range names {
				if err := ovs.Teardown(client, netdev, st, name, logger); err != nil {
					logger.WithField("topology", name).Errorf("Teardown failed: %v", err)
					failed = append(failed, name)
					continue
				}
				fmt.Fprintf(out, "Removed %s\n", name)
			}
			if len(failed) > 0 {
				return fmt.Errorf("failed to tear down %s", strings.Join(failed, ", "))
			}
			return nil
		},
	}
}

func newPresetsCommand(out io.Writer) *cobra.Command {
	var format string

	presets := &cobra.Command{
		Use:   "presets",
		Short: "List built-in topologies",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(out, "Available topologies")
			for _, name := range config.PresetNames() {
				fmt.Fprintf(out, "\t%s\n", name)
			}
		},
	}

	show := &cobra.Command{
		Use:     "show <preset>",
		Short:   "Print a built-in topology",
		Example: "  cloud-federation presets show cloud2 --format json > cloud2.json",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := config.Format(strings.ToLower(format))
			if f != config.FormatYAML && f != config.FormatJSON {
				return &config.ArgumentParseError{Flag: "format", Value: format, Reason: "must be yaml or json"}
			}
			topo, err := config.Preset(args[0])
			if err != nil {
				return err
			}
			data, err := config.Encode(topo, f)
			if err != nil {
				return err
			}
			_, err = out.Write(data)
			return err
		},
	}
	show.Flags().StringVar(&format, "format", string(config.FormatYAML), "Output format (yaml or json)")

	presets.AddCommand(show)
	return presets
}

func printSummary(out io.Writer, g *topology.Graph, controller *types.Controller) error {
	fmt.Fprintf(out, "Topology %s: %d switches, %d hosts, %d links\n", g.Name, len(g.Switches), len(g.Hosts), len(g.Links))
	if controller != nil {
		target, err := ovs.ControllerTarget(controller.Address, controller.Port)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Controller: %s\n", target)
	} else {
		fmt.Fprintln(out, "Controller: none (standalone switches)")
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SWITCH\tDPID\tHOSTS")
	for _, name := range g.SwitchOrder {
		var hosts []string
		for _, h := range g.HostOrder {
			if g.Hosts[h].Switch == name {
				hosts = append(hosts, fmt.Sprintf("%s(%s)", h, g.Hosts[h].IP))
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", name, g.Switches[name].DPID, strings.Join(hosts, " "))
	}
	for _, l := range g.SwitchLinks() {
		fmt.Fprintf(w, "%s\t<->\t%s\n", l.A, l.B)
	}
	return w.Flush()
}
