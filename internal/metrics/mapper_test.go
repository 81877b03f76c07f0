package metrics

import (
	"math"
	"reflect"
	"testing"

	"github.com/sweeney/nut-exporter/internal/nut"
)

// sampleVars mirrors a CyberPower CP1500EPFCLCD on mains.
var sampleVars = []nut.Variable{
	{Name: "battery.charge", Value: "100"},
	{Name: "battery.runtime", Value: "4920"},
	{Name: "battery.type", Value: "PbAcid"},
	{Name: "input.voltage", Value: "242.0"},
	{Name: "ups.load", Value: "8"},
	{Name: "ups.status", Value: "OL"},
	{Name: "ups.timer.shutdown", Value: "-60"},
}

var ups1 = Target{UPS: "ups1", Server: "nuthost"}

func TestPrometheusName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"battery.charge", "nut_battery_charge"},
		{"ups.realpower.nominal", "nut_ups_realpower_nominal"},
		{"driver.version-usb", "nut_driver_version_usb"},
		{"Input.Voltage", "nut_input_voltage"},
		{"", "nut_"},
	}
	for _, tt := range tests {
		got := PrometheusName(tt.in)
		if got != tt.want {
			t.Errorf("PrometheusName(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if again := PrometheusName(tt.in); again != got {
			t.Errorf("PrometheusName(%q) not deterministic: %q then %q", tt.in, got, again)
		}
	}
}

func TestHelpText(t *testing.T) {
	tests := []struct{ in, want string }{
		{"battery.charge", "Battery charge"},
		{"ups.realpower.nominal", "Ups realpower nominal"},
		{"x", "X"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := HelpText(tt.in); got != tt.want {
			t.Errorf("HelpText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseNumber(t *testing.T) {
	numeric := map[string]float64{
		"90":     90,
		"242.0":  242,
		"-60":    -60,
		"+5":     5,
		".5":     0.5,
		"5.":     5,
		"1e3":    1000,
		"2.5E-2": 0.025,
		"007":    7,
	}
	for in, want := range numeric {
		got, ok := ParseNumber(in)
		if !ok {
			t.Errorf("ParseNumber(%q) ok = false, want true", in)
			continue
		}
		if got != want {
			t.Errorf("ParseNumber(%q) = %v, want %v", in, got, want)
		}
	}

	for _, in := range []string{"", "OL", "NaN", "Inf", "-Inf", "0x1A", " 5", "5 ", "1,5", "1e", "e5", ".", "+", "1.2.3", "libusb-1.0.28"} {
		if _, ok := ParseNumber(in); ok {
			t.Errorf("ParseNumber(%q) ok = true, want false", in)
		}
	}

	if got, ok := ParseNumber("1e999"); !ok || !math.IsInf(got, 1) {
		t.Errorf("ParseNumber(1e999) = %v, %v; want +Inf, true", got, ok)
	}
}

func TestMap_NumericAndString(t *testing.T) {
	m := NewMapper(Rules{})
	samples := m.Map(ups1, []nut.Variable{
		{Name: "battery.charge", Value: "90"},
		{Name: "ups.status", Value: "OL"},
	})
	if len(samples) != 2 {
		t.Fatalf("got %d samples, want 2", len(samples))
	}

	num := samples[0]
	if num.Name != "nut_battery_charge" || num.Value != 90 || num.Help != "Battery charge" {
		t.Errorf("numeric sample = %+v", num)
	}
	wantNum := Labels{{"ups", "ups1"}, {"server", "nuthost"}}
	if !reflect.DeepEqual(num.Labels, wantNum) {
		t.Errorf("numeric labels = %v, want %v", num.Labels, wantNum)
	}

	str := samples[1]
	if str.Name != "nut_ups_status" || str.Value != 1 || str.Help != StringHelp {
		t.Errorf("string sample = %+v", str)
	}
	wantStr := Labels{{"ups", "ups1"}, {"server", "nuthost"}, {"key", "ups.status"}, {"value", "OL"}}
	if !reflect.DeepEqual(str.Labels, wantStr) {
		t.Errorf("string labels = %v, want %v", str.Labels, wantStr)
	}
}

// Every value lands in exactly one branch.
func TestMap_BranchesAreExclusive(t *testing.T) {
	m := NewMapper(Rules{})
	for _, s := range m.Map(ups1, sampleVars) {
		_, hasKey := s.Labels.Get(LabelKey)
		_, hasValue := s.Labels.Get(LabelValue)
		_, numeric := ParseNumber(s.Raw)
		switch {
		case numeric && (hasKey || hasValue):
			t.Errorf("%s: numeric sample carries key/value labels", s.Name)
		case !numeric && (!hasKey || !hasValue || s.Value != 1):
			t.Errorf("%s: string sample = %+v", s.Name, s)
		}
	}
}

func TestMap_PreservesVariableOrder(t *testing.T) {
	m := NewMapper(Rules{Filter: []string{"ups.status", "battery.charge"}})
	samples := m.Map(ups1, sampleVars)
	if len(samples) != 2 {
		t.Fatalf("got %d samples, want 2", len(samples))
	}
	if samples[0].Source != "battery.charge" || samples[1].Source != "ups.status" {
		t.Errorf("order = [%s %s], want variable order not filter order", samples[0].Source, samples[1].Source)
	}
}

func TestMap_FilterIsSubset(t *testing.T) {
	filter := []string{"ups.load", "not.reported"}
	samples := NewMapper(Rules{Filter: filter}).Map(ups1, sampleVars)
	if len(samples) != 1 || samples[0].Source != "ups.load" {
		t.Errorf("samples = %+v, want only ups.load", samples)
	}

	all := NewMapper(Rules{}).Map(ups1, sampleVars)
	if len(all) != len(sampleVars) {
		t.Errorf("empty filter kept %d of %d variables", len(all), len(sampleVars))
	}
}

func TestMap_RenameAffectsNameHelpAndKeyOnly(t *testing.T) {
	target := Target{UPS: "ups1", Server: "nuthost", Labels: map[string]string{"site": "ups.status"}}
	m := NewMapper(Rules{Rename: map[string]string{
		"battery.charge": "battery.percent",
		"ups.status":     "ups.state",
	}})
	samples := m.Map(target, []nut.Variable{
		{Name: "battery.charge", Value: "90"},
		{Name: "ups.status", Value: "OL"},
	})

	if samples[0].Name != "nut_battery_percent" || samples[0].Help != "Battery percent" {
		t.Errorf("renamed numeric = %+v", samples[0])
	}
	if samples[1].Name != "nut_ups_state" {
		t.Errorf("renamed string name = %q", samples[1].Name)
	}
	if key, _ := samples[1].Labels.Get(LabelKey); key != "ups.state" {
		t.Errorf("key label = %q, want renamed ups.state", key)
	}
	for _, s := range samples {
		if v, _ := s.Labels.Get("ups"); v != "ups1" {
			t.Errorf("%s: ups label = %q", s.Name, v)
		}
		if v, _ := s.Labels.Get("site"); v != "ups.status" {
			t.Errorf("%s: custom label changed by rename: %q", s.Name, v)
		}
	}
}

func TestMap_CustomLabelsSortedAndReservedProtected(t *testing.T) {
	target := Target{UPS: "ups1", Server: "nuthost", Labels: map[string]string{
		"rack":   "r2",
		"dc":     "lon1",
		"ups":    "spoofed",
		"server": "spoofed",
		"value":  "spoofed",
	}}
	samples := NewMapper(Rules{}).Map(target, []nut.Variable{
		{Name: "ups.load", Value: "8"},
		{Name: "ups.status", Value: "OL"},
	})

	want := Labels{{"ups", "ups1"}, {"server", "nuthost"}, {"dc", "lon1"}, {"rack", "r2"}}
	if !reflect.DeepEqual(samples[0].Labels, want) {
		t.Errorf("labels = %v, want %v", samples[0].Labels, want)
	}
	if v, _ := samples[1].Labels.Get(LabelValue); v != "OL" {
		t.Errorf("value label = %q, want OL", v)
	}
}

func TestMap_SamplesDoNotShareLabelStorage(t *testing.T) {
	samples := NewMapper(Rules{}).Map(ups1, []nut.Variable{
		{Name: "a", Value: "1"},
		{Name: "b", Value: "x"},
		{Name: "c", Value: "y"},
	})
	samples[1].Labels[0].Value = "mutated"
	if samples[0].Labels[0].Value != "ups1" || samples[2].Labels[0].Value != "ups1" {
		t.Error("samples alias each other's label slices")
	}
}

func TestMap_Empty(t *testing.T) {
	if got := NewMapper(Rules{}).Map(ups1, nil); len(got) != 0 {
		t.Errorf("Map(nil) = %+v, want empty", got)
	}
}
