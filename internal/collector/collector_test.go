package collector

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sweeney/nut-exporter/internal/metrics"
	"github.com/sweeney/nut-exporter/internal/nut"
	"github.com/sweeney/nut-exporter/internal/telemetry"
)

var quietLog = slog.New(slog.NewTextHandler(io.Discard, nil))

func newCollector(d *nut.FakeDialer, servers ...ServerTarget) *Collector {
	return &Collector{
		Servers: servers,
		Mapper:  metrics.NewMapper(metrics.Rules{}),
		Dial:    d.Dial,
		Logger:  quietLog,
		Metrics: telemetry.New(),
	}
}

func server(host string, ups ...string) ServerTarget {
	s := ServerTarget{Target: nut.Target{Host: host, Port: nut.DefaultPort}}
	for _, name := range ups {
		s.UPS = append(s.UPS, UPSTarget{Name: name})
	}
	return s
}

func render(t *testing.T, res *metrics.Result) string {
	t.Helper()
	b, err := metrics.RenderBytes(res)
	if err != nil {
		t.Fatalf("RenderBytes: %v", err)
	}
	return string(b)
}

func TestCollect_SingleUPS(t *testing.T) {
	d := &nut.FakeDialer{Servers: map[string]*nut.FakeServer{
		"nuthost:3493": {UPS: map[string][]nut.Variable{
			"ups1": {{Name: "battery.charge", Value: "90"}, {Name: "ups.status", Value: "OL"}},
		}},
	}}
	res, err := newCollector(d, server("nuthost", "ups1")).Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}

	want := `nut_battery_charge{ups="ups1",server="nuthost"} 90
nut_ups_status{ups="ups1",server="nuthost",key="ups.status",value="OL"} 1
`
	if got := render(t, res); got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestCollect_UnknownUPSSkipsOnlyThatUPS(t *testing.T) {
	srv := &nut.FakeServer{UPS: map[string][]nut.Variable{
		"ups1": {{Name: "ups.load", Value: "8"}},
		"ups2": {{Name: "ups.load", Value: "12"}},
	}}
	d := &nut.FakeDialer{Servers: map[string]*nut.FakeServer{"nas:3493": srv}}
	c := newCollector(d, server("nas", "ups1", "ghost", "ups2"))

	res, err := c.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	samples := res.Samples("nut_ups_load")
	if len(samples) != 2 {
		t.Fatalf("got %d nut_ups_load samples, want 2", len(samples))
	}
	for _, s := range samples {
		if ups, _ := s.Labels.Get("ups"); ups == "ghost" {
			t.Error("ghost should contribute no samples")
		}
	}
	if srv.Dials != 1 || srv.Closes != 1 {
		t.Errorf("Dials=%d Closes=%d, want one connection reused and closed", srv.Dials, srv.Closes)
	}
	if got := testutil.ToFloat64(c.Metrics.UPSFailures.WithLabelValues("nas:3493", "ghost", "unknown_ups")); got != 1 {
		t.Errorf("ups failure counter = %v, want 1", got)
	}
}

func TestCollect_ProtocolErrorSkipsUPSAndClosesConnection(t *testing.T) {
	srv := &nut.FakeServer{
		UPS:    map[string][]nut.Variable{"ups2": {{Name: "ups.load", Value: "12"}}},
		UPSErr: map[string]error{"ups1": &nut.Error{Kind: nut.ErrProtocol, Server: "nas:3493", UPS: "ups1", Err: io.ErrUnexpectedEOF}},
	}
	d := &nut.FakeDialer{Servers: map[string]*nut.FakeServer{"nas:3493": srv}}

	res, _ := newCollector(d, server("nas", "ups1", "ups2")).Collect(context.Background())
	if res.Len() != 1 {
		t.Errorf("got %d samples, want 1 from ups2", res.Len())
	}
	if srv.Closes != 1 {
		t.Errorf("Closes = %d, want 1", srv.Closes)
	}
}

func TestCollect_ConnectionFailureSkipsServer(t *testing.T) {
	down := &nut.FakeServer{DialErr: &nut.Error{Kind: nut.ErrConnection, Server: "down:3493", Err: errors.New("refused")}}
	up := &nut.FakeServer{UPS: map[string][]nut.Variable{"ups1": {{Name: "ups.load", Value: "8"}}}}
	d := &nut.FakeDialer{Servers: map[string]*nut.FakeServer{"down:3493": down, "up:3493": up}}
	c := newCollector(d, server("down", "a", "b"), server("up", "ups1"))

	res, err := c.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if res.Len() != 1 {
		t.Errorf("got %d samples, want 1 from the healthy server", res.Len())
	}
	if len(down.Queried) != 0 {
		t.Errorf("queried %q on an unreachable server", down.Queried)
	}
	if down.Closes != 0 {
		t.Error("nothing to close after a failed dial")
	}
	if got := testutil.ToFloat64(c.Metrics.ServerFailures.WithLabelValues("down:3493", "connection")); got != 1 {
		t.Errorf("server failure counter = %v, want 1", got)
	}
}

func TestCollect_AuthFailureSkipsServer(t *testing.T) {
	locked := &nut.FakeServer{DialErr: &nut.Error{Kind: nut.ErrAuth, Server: "locked:3493", Stage: "password"}}
	d := &nut.FakeDialer{Servers: map[string]*nut.FakeServer{"locked:3493": locked}}

	res, err := newCollector(d, server("locked", "ups1")).Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if res.Len() != 0 {
		t.Errorf("got %d samples from a server that rejected auth", res.Len())
	}
}

func TestCollect_SkipsEmptyUPSNameAndEmptyServer(t *testing.T) {
	srv := &nut.FakeServer{UPS: map[string][]nut.Variable{"ups1": {{Name: "ups.load", Value: "8"}}}}
	empty := &nut.FakeServer{}
	d := &nut.FakeDialer{Servers: map[string]*nut.FakeServer{"nas:3493": srv, "empty:3493": empty}}

	res, _ := newCollector(d, server("empty"), server("nas", "", "ups1")).Collect(context.Background())
	if res.Len() != 1 {
		t.Errorf("got %d samples, want 1", res.Len())
	}
	if len(srv.Queried) != 1 || srv.Queried[0] != "ups1" {
		t.Errorf("Queried = %q, want only ups1", srv.Queried)
	}
	if empty.Dials != 0 {
		t.Error("a server without UPSes should not be dialled")
	}
}

func TestCollect_MergesAcrossServersInOrder(t *testing.T) {
	d := &nut.FakeDialer{Servers: map[string]*nut.FakeServer{
		"a:3493": {UPS: map[string][]nut.Variable{"u": {{Name: "ups.load", Value: "1"}}}},
		"b:3493": {UPS: map[string][]nut.Variable{"u": {{Name: "ups.load", Value: "2"}, {Name: "ups.status", Value: "OL"}}}},
	}}
	res, _ := newCollector(d, server("a", "u"), server("b", "u")).Collect(context.Background())

	want := `nut_ups_load{ups="u",server="a"} 1
nut_ups_load{ups="u",server="b"} 2
nut_ups_status{ups="u",server="b",key="ups.status",value="OL"} 1
`
	if got := render(t, res); got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestCollect_AppliesCustomLabelsAndRules(t *testing.T) {
	d := &nut.FakeDialer{Servers: map[string]*nut.FakeServer{
		"nas:3493": {UPS: map[string][]nut.Variable{"ups1": {
			{Name: "battery.charge", Value: "90"},
			{Name: "ups.load", Value: "8"},
		}}},
	}}
	c := newCollector(d, ServerTarget{
		Target: nut.Target{Host: "nas", Port: 3493},
		UPS:    []UPSTarget{{Name: "ups1", Labels: map[string]string{"rack": "r1"}}},
	})
	c.Mapper = metrics.NewMapper(metrics.Rules{
		Filter: []string{"battery.charge"},
		Rename: map[string]string{"battery.charge": "battery.level"},
	})

	res, _ := c.Collect(context.Background())
	want := "nut_battery_level{ups=\"ups1\",server=\"nas\",rack=\"r1\"} 90\n"
	if got := render(t, res); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestCollect_CancelledContext(t *testing.T) {
	d := &nut.FakeDialer{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := newCollector(d, server("nas", "ups1")).Collect(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestCollect_NoServers(t *testing.T) {
	res, err := newCollector(&nut.FakeDialer{}).Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if res.Len() != 0 {
		t.Errorf("got %d samples, want 0", res.Len())
	}
}
