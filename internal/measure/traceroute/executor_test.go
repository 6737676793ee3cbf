package traceroute

import "testing"

func TestHopsToAnyNormalisesMissedTimingsToNil(t *testing.T) {
	hops := []Hop{{Timings: []Timing{{Missed: true}, {RTT: 1.5}}}}
	out := hopsToAny(hops)
	timings := out[0]["timings"].([]map[string]any)
	if timings[0]["rtt"] != nil {
		t.Fatalf("expected missed timing to normalise to nil, got %v", timings[0]["rtt"])
	}
	if timings[1]["rtt"] != 1.5 {
		t.Fatalf("expected rtt 1.5, got %v", timings[1]["rtt"])
	}
	if out[0]["resolvedAddress"] != nil {
		t.Fatalf("expected unresolved hop address to be nil, got %v", out[0]["resolvedAddress"])
	}
}
