package ovs

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/CGaul/cloud-federation/pkg/config"
	"github.com/CGaul/cloud-federation/pkg/store"
	"github.com/CGaul/cloud-federation/pkg/topology"
	"github.com/CGaul/cloud-federation/pkg/types"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNetdev struct {
	calls []string
	fail  map[string]error
}

func newFakeNetdev() *fakeNetdev {
	return &fakeNetdev{fail: map[string]error{}}
}

func (f *fakeNetdev) do(op string, args ...string) error {
	f.calls = append(f.calls, op+" "+strings.Join(args, " "))
	return f.fail[op]
}

func (f *fakeNetdev) CreateNamespace(name string) error { return f.do("netns-add", name) }
func (f *fakeNetdev) DeleteNamespace(name string) error { return f.do("netns-del", name) }
func (f *fakeNetdev) CreateVethPair(name, peer string) error {
	return f.do("veth-add", name, peer)
}
func (f *fakeNetdev) DeleteVethPair(name, peer string) error {
	return f.do("veth-del", name, peer)
}
func (f *fakeNetdev) MoveToNamespace(link, namespace string) error {
	return f.do("move", link, namespace)
}
func (f *fakeNetdev) ConfigureLink(namespace, link, mac, cidr string) error {
	return f.do("configure", namespace, link, mac, cidr)
}

func (f *fakeNetdev) only(op string) []string {
	out := []string{}
	for _, c := range f.calls {
		if strings.HasPrefix(c, op+" ") {
			out = append(out, strings.TrimPrefix(c, op+" "))
		}
	}
	return out
}

type engineFixture struct {
	engine *Engine
	runner *fakeRunner
	netdev *fakeNetdev
	store  *store.Store
	hook   *test.Hook
}

func newEngineFixture(t *testing.T, name string) *engineFixture {
	t.Helper()
	logger, hook := test.NewNullLogger()
	runner := newFakeRunner()
	// No bridge exists yet
	runner.fail["br-exists"] = true
	netdev := newFakeNetdev()
	st, err := store.NewStore(t.TempDir())
	require.NoError(t, err)

	client := NewClientWithRunner(runner.run, logger)
	return &engineFixture{
		engine: NewEngine(client, netdev, st, name, 24, logger),
		runner: runner,
		netdev: netdev,
		store:  st,
		hook:   hook,
	}
}

func (f *engineFixture) vsctl(sub string) []string {
	out := []string{}
	for _, c := range f.runner.calls {
		if len(c) > 1 && c[1] == sub {
			out = append(out, strings.Join(c[2:], " "))
		}
	}
	return out
}

func TestEngineBuildsPreset(t *testing.T) {
	topo, err := config.Preset("cloud1-ovx")
	require.NoError(t, err)
	f := newEngineFixture(t, topo.Name)
	logger, _ := test.NewNullLogger()

	_, err = topology.NewCompiler(f.engine, logger).Build(topo)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"hdhcp-eth0 GW-eth1",
		"h1_1_1-eth0 SWITCH1-eth1",
		"h1_1_2-eth0 SWITCH1-eth2",
		"h1_2_1-eth0 SWITCH2-eth1",
		"h1_3_1-eth0 SWITCH3-eth1",
		"GW-eth2 SWITCH1-eth3",
		"SWITCH1-eth4 SWITCH2-eth2",
		"SWITCH2-eth3 SWITCH3-eth2",
	}, f.netdev.only("veth-add"))

	assert.Contains(t, f.netdev.only("configure"), "hdhcp hdhcp-eth0 00:00:00:00:01:10 10.1.0.1/24")
	assert.Contains(t, f.netdev.only("move"), "h1_3_1-eth0 h1_3_1")
	assert.Contains(t, f.vsctl("add-br"), "GW -- set bridge GW fail-mode=standalone other-config:datapath-id=0000000000011000")
	assert.Contains(t, f.vsctl("add-port"), "SWITCH2 SWITCH2-eth3")

	state, err := f.store.GetTopology("cloud1-ovx")
	require.NoError(t, err)
	assert.Equal(t, []string{"GW", "SWITCH1", "SWITCH2", "SWITCH3"}, state.Bridges)
	assert.Len(t, state.Namespaces, 5)
	assert.Len(t, state.Veths, 8)
}

func TestEngineControllerAndExtras(t *testing.T) {
	topo, err := config.Preset("cloud1-ovx")
	require.NoError(t, err)
	f := newEngineFixture(t, topo.Name)
	logger, _ := test.NewNullLogger()

	_, err = topology.NewCompiler(f.engine, logger).Build(topo)
	require.NoError(t, err)
	require.NoError(t, f.engine.RegisterController("192.168.150.10", 6633))
	require.NoError(t, f.engine.Apply(topo))

	assert.Equal(t, []string{
		"GW tcp:192.168.150.10:6633 -- set bridge GW fail-mode=secure",
		"SWITCH1 tcp:192.168.150.10:6633 -- set bridge SWITCH1 fail-mode=secure",
		"SWITCH2 tcp:192.168.150.10:6633 -- set bridge SWITCH2 fail-mode=secure",
		"SWITCH3 tcp:192.168.150.10:6633 -- set bridge SWITCH3 fail-mode=secure",
	}, f.vsctl("set-controller"))
	assert.Contains(t, f.vsctl("add-port"), "GW GW-gre1 -- set Interface GW-gre1 options:remote_ip=10.1.1.30 -- set Interface GW-gre1 type=gre")
	assert.Equal(t, []string{"ovs-ofctl add-flow GW dl_type=0x88CC,in_port=3,actions=drop"}, f.runner.lines()[len(f.runner.lines())-1:])

	state, err := f.store.GetTopology("cloud1-ovx")
	require.NoError(t, err)
	assert.Equal(t, "192.168.150.10", state.ControllerIP)
	assert.Equal(t, 6633, state.ControllerPort)
	assert.Equal(t, []string{"GW:GW-gre1"}, state.Ports)
}

func TestEngineUnspecifiedAddress(t *testing.T) {
	topo, err := config.Preset("cloud1")
	require.NoError(t, err)
	f := newEngineFixture(t, topo.Name)
	logger, _ := test.NewNullLogger()

	_, err = topology.NewCompiler(f.engine, logger).Build(topo)
	require.NoError(t, err)
	require.NoError(t, f.engine.Apply(topo))

	// The DHCP host keeps its MAC but gets no address
	assert.Contains(t, f.netdev.only("configure"), "h_dhcp h_dhcp-eth0 00:00:00:00:00:10 ")
	assert.Contains(t, f.vsctl("add-port"), "GW eth0")
}

func TestEngineRejectsForeignNodes(t *testing.T) {
	f := newEngineFixture(t, "lab")

	sw, err := f.engine.CreateSwitchNode("S1", "0000000000000001")
	require.NoError(t, err)
	_, err = f.engine.CreateSwitchNode("S1", "0000000000000001")
	assert.Error(t, err)

	assert.Error(t, f.engine.CreateEdge(sw, &topology.RecordedNode{Name: "ghost"}))
	assert.Error(t, f.engine.CreateEdge(sw, nil))
	assert.Empty(t, f.netdev.only("veth-add"))
}

func TestEngineFailurePropagates(t *testing.T) {
	f := newEngineFixture(t, "lab")
	f.netdev.fail["netns-add"] = errors.New("operation not permitted")

	_, err := f.engine.CreateHostNode("h1", "10.0.0.1", "000000000001")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "operation not permitted")
	assert.Empty(t, f.store.ListTopologies())
}

func TestTeardown(t *testing.T) {
	topo, err := config.Preset("cloud1-ovx")
	require.NoError(t, err)
	f := newEngineFixture(t, topo.Name)
	logger, _ := test.NewNullLogger()

	_, err = topology.NewCompiler(f.engine, logger).Build(topo)
	require.NoError(t, err)
	require.NoError(t, f.engine.Apply(topo))

	require.NoError(t, f.engine.Teardown())

	assert.Len(t, f.netdev.only("veth-del"), 8)
	assert.Len(t, f.netdev.only("netns-del"), 5)
	assert.Equal(t, []string{
		"del-port GW GW-gre1",
		"del-br GW",
		"del-br SWITCH1",
		"del-br SWITCH2",
		"del-br SWITCH3",
	}, f.vsctl("--if-exists"))

	_, err = f.store.GetTopology(topo.Name)
	assert.Error(t, err)
}

func TestTeardownKeepsStateOnFailure(t *testing.T) {
	f := newEngineFixture(t, "lab")
	logger, _ := test.NewNullLogger()

	require.NoError(t, f.store.SaveTopology(&store.TopologyState{
		Name:       "lab",
		Bridges:    []string{"S1"},
		Namespaces: []string{"h1", "h2"},
		Ports:      []string{"bogus"},
	}))
	f.netdev.fail["netns-del"] = fmt.Errorf("namespace busy")

	err := Teardown(f.engine.client, f.netdev, f.store, "lab", logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "namespace busy")
	assert.Contains(t, err.Error(), "malformed port record")

	// Every object is still attempted
	assert.Len(t, f.netdev.only("netns-del"), 2)
	assert.Equal(t, []string{"del-br S1"}, f.vsctl("--if-exists"))

	_, err = f.store.GetTopology("lab")
	assert.NoError(t, err)

	assert.Error(t, Teardown(f.engine.client, f.netdev, f.store, "missing", logger))
}

func TestEngineLeavesExistingBridgeAlone(t *testing.T) {
	topo, err := config.Preset("cloud1-ovx")
	require.NoError(t, err)
	f := newEngineFixture(t, topo.Name)
	f.runner.fail["br-exists"] = false
	logger, _ := test.NewNullLogger()

	_, err = topology.NewCompiler(f.engine, logger).Build(topo)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBridgeExists))
	assert.Contains(t, err.Error(), "bridge GW is not owned by topology cloud1-ovx")

	// Nothing is created or recorded, so a later clean cannot remove the bridge
	assert.Empty(t, f.vsctl("add-br"))
	assert.Empty(t, f.netdev.calls)
	assert.Empty(t, f.store.ListTopologies())
}

func TestEngineLeavesExistingLinksAlone(t *testing.T) {
	f := newEngineFixture(t, "lab")
	f.netdev.fail["veth-add"] = fmt.Errorf("cannot create veth pair: h1-eth0: %w", ErrLinkExists)

	sw, err := f.engine.CreateSwitchNode("S1", "0000000000000001")
	require.NoError(t, err)
	h, err := f.engine.CreateHostNode("h1", "10.0.0.1", "000000000001")
	require.NoError(t, err)

	err = f.engine.CreateEdge(h, sw)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLinkExists))

	state, err := f.store.GetTopology("lab")
	require.NoError(t, err)
	assert.Empty(t, state.Veths)
	assert.Empty(t, f.vsctl("add-port"))
	assert.Empty(t, f.netdev.only("move"))
}

func TestPreflight(t *testing.T) {
	topo, err := config.Preset("cloud1-ovx")
	require.NoError(t, err)
	f := newEngineFixture(t, topo.Name)

	f.runner.outputs["list-br"] = "br-int\n"
	require.NoError(t, f.engine.Preflight(topo))

	f.runner.outputs["list-br"] = "br-int\nSWITCH2\nGW\n"
	err = f.engine.Preflight(topo)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBridgeExists))
	assert.Contains(t, err.Error(), "bridges SWITCH2, GW already exist")
	assert.NotContains(t, err.Error(), "br-int")

	f.runner.fail["list-br"] = true
	assert.Error(t, f.engine.Preflight(topo))
	assert.Empty(t, f.vsctl("add-br"))
}

func TestRegisterControllerResolvesAddress(t *testing.T) {
	testCases := []struct {
		address string
		target  string
		ip      string
	}{
		{address: "localhost", target: "tcp:127.0.0.1:6633", ip: "127.0.0.1"},
		{address: "192.168.150.10", target: "tcp:192.168.150.10:6633", ip: "192.168.150.10"},
		{address: "::1", target: "tcp:[::1]:6633", ip: "::1"},
	}

	for _, tc := range testCases {
		t.Run(tc.address, func(t *testing.T) {
			f := newEngineFixture(t, "lab")
			_, err := f.engine.CreateSwitchNode("S1", "0000000000000001")
			require.NoError(t, err)

			require.NoError(t, f.engine.RegisterController(tc.address, 6633))
			assert.Equal(t, []string{"S1 " + tc.target + " -- set bridge S1 fail-mode=secure"}, f.vsctl("set-controller"))

			state, err := f.store.GetTopology("lab")
			require.NoError(t, err)
			assert.Equal(t, tc.ip, state.ControllerIP)
		})
	}
}

func TestApplyChecksBuiltSwitches(t *testing.T) {
	topo, err := config.Preset("cloud1-ovx")
	require.NoError(t, err)
	f := newEngineFixture(t, topo.Name)
	logger, _ := test.NewNullLogger()

	_, err = topology.NewCompiler(f.engine, logger).Build(topo)
	require.NoError(t, err)

	fewer := *topo
	fewer.Switches = topo.Switches[:len(topo.Switches)-1]
	err = f.engine.Apply(&fewer)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "declares 3 switches, 4 were built")

	renamed := *topo
	renamed.Switches = append([]types.SwitchSpec{}, topo.Switches...)
	renamed.Switches[0].Name = "EDGE"
	err = f.engine.Apply(&renamed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "switch GW is not declared")

	assert.Empty(t, f.vsctl("add-flow"))
	assert.Equal(t, "GW", topo.Switches[0].Name)
}

func TestTeardownReportsForeignPorts(t *testing.T) {
	f := newEngineFixture(t, "lab")
	require.NoError(t, f.store.SaveTopology(&store.TopologyState{
		Name:    "lab",
		Bridges: []string{"S1"},
		Veths:   []store.VethInfo{{Name: "h1-eth0", Peer: "S1-eth1"}},
	}))
	f.runner.outputs["list-ports"] = "S1-eth1\nvnet0\n"

	require.NoError(t, f.engine.Teardown())

	var warned *logrus.Entry
	for _, entry := range f.hook.AllEntries() {
		if entry.Level == logrus.WarnLevel && entry.Data["bridge"] == "S1" {
			warned = entry
		}
	}
	require.NotNil(t, warned)
	assert.Equal(t, "vnet0", warned.Data["ports"])
	assert.Equal(t, []string{"del-br S1"}, f.vsctl("--if-exists"))
}
