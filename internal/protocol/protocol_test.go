package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

const validConfiguration = `{
  "signal": {"n_cycles": 4, "sample_rate": 3200, "nominal_freq": 50},
  "synchrophasor": {"frame_rate": 50, "number_of_dft_bins": 11, "ipdft_iterations": 3,
    "iter_e_ipdft_enable": 1, "iter_e_ipdft_iterations": 10, "interference_threshold": 0.0033},
  "rocof": {"threshold_1": 3, "threshold_2": 25, "threshold_3": 0.035,
    "low_pass_filter_1": 0.5913, "low_pass_filter_2": 0.2043, "low_pass_filter_3": 0.2043}
}`

func mutateConfiguration(t *testing.T, fn func(map[string]map[string]any)) []byte {
	t.Helper()
	var doc map[string]map[string]any
	if err := json.Unmarshal([]byte(validConfiguration), &doc); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}
	fn(doc)
	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	return raw
}

func TestParseConfiguration(t *testing.T) {
	cfg, err := ParseConfiguration([]byte(validConfiguration))
	if err != nil {
		t.Fatalf("ParseConfiguration error: %v", err)
	}
	est := cfg.EstimatorConfig()
	if est.NCycles != 4 || est.SampleRate != 3200 || est.NominalFreq != 50 {
		t.Fatalf("signal = %+v", cfg.Signal)
	}
	if est.NBins != 11 || est.P != 3 || est.IterEIpDFT != 1 || est.Q != 10 {
		t.Fatalf("synchrophasor = %+v", cfg.Synchrophasor)
	}
	if est.RocofThresholds != [3]float64{3, 25, 0.035} {
		t.Fatalf("RocofThresholds = %v", est.RocofThresholds)
	}
	if est.RocofLowPass != [3]float64{0.5913, 0.2043, 0.2043} {
		t.Fatalf("RocofLowPass = %v", est.RocofLowPass)
	}
}

func TestParseConfigurationMissingField(t *testing.T) {
	raw := mutateConfiguration(t, func(doc map[string]map[string]any) {
		delete(doc["rocof"], "threshold_2")
	})
	_, err := ParseConfiguration(raw)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
	if !strings.Contains(err.Error(), "threshold_2") {
		t.Fatalf("error %q does not name the missing field", err)
	}
}

func TestParseConfigurationShape(t *testing.T) {
	cases := map[string][]byte{
		"missing group": mutateConfiguration(t, func(doc map[string]map[string]any) {
			delete(doc, "synchrophasor")
		}),
		"extra group": mutateConfiguration(t, func(doc map[string]map[string]any) {
			doc["extra"] = map[string]any{"x": 1}
		}),
		"real for integer": mutateConfiguration(t, func(doc map[string]map[string]any) {
			doc["signal"]["sample_rate"] = 3200.5
		}),
		"string for number": mutateConfiguration(t, func(doc map[string]map[string]any) {
			doc["rocof"]["threshold_1"] = "3"
		}),
		"not json": []byte(`{"signal":`),
		"empty":    nil,
		"null":     []byte("null"),
	}
	for name, raw := range cases {
		if _, err := ParseConfiguration(raw); !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: error = %v, want ErrValidation", name, err)
		}
	}
}

func TestParseConfigurationNoRangeCheck(t *testing.T) {
	raw := mutateConfiguration(t, func(doc map[string]map[string]any) {
		doc["signal"]["sample_rate"] = -3200
	})
	cfg, err := ParseConfiguration(raw)
	if err != nil {
		t.Fatalf("ParseConfiguration error: %v", err)
	}
	if cfg.Signal.SampleRate != -3200 {
		t.Fatalf("SampleRate = %d, want -3200", cfg.Signal.SampleRate)
	}
}

func TestParseDataFrame(t *testing.T) {
	raw := `{"timestamp": {"SOC": 123456789, "FRACSEC": 500000, "timebase": 1000000},
	  "channels": [
	    {"channel_number": 1, "payload": ""},
	    {"channel_number": 2, "payload": ""},
	    {"channel_number": 5, "payload": ""}
	  ]}`
	frame, err := ParseDataFrame([]byte(raw))
	if err != nil {
		t.Fatalf("ParseDataFrame error: %v", err)
	}
	if frame.Timestamp.SOC != 123456789 || frame.Timestamp.FRACSEC != 500000 || frame.Timestamp.Timebase != 1000000 {
		t.Fatalf("Timestamp = %+v", frame.Timestamp)
	}
	want := []string{"channel_1", "channel_2", "channel_5"}
	if len(frame.Channels) != len(want) {
		t.Fatalf("len(Channels) = %d, want %d", len(frame.Channels), len(want))
	}
	for i, ch := range frame.Channels {
		if ch.Key() != want[i] {
			t.Fatalf("Channels[%d].Key() = %q, want %q", i, ch.Key(), want[i])
		}
	}
}

func TestParseDataFrameRejects(t *testing.T) {
	cases := map[string]string{
		"negative fracsec":   `{"timestamp": {"SOC": 1, "FRACSEC": -1, "timebase": 1}, "channels": []}`,
		"missing timebase":   `{"timestamp": {"SOC": 1, "FRACSEC": 0}, "channels": []}`,
		"missing channels":   `{"timestamp": {"SOC": 1, "FRACSEC": 0, "timebase": 1}}`,
		"payload not string": `{"timestamp": {"SOC": 1, "FRACSEC": 0, "timebase": 1}, "channels": [{"channel_number": 1, "payload": 5}]}`,
		"duplicate channel":  `{"timestamp": {"SOC": 1, "FRACSEC": 0, "timebase": 1}, "channels": [
		  {"channel_number": 3, "payload": ""}, {"channel_number": 3, "payload": ""}]}`,
	}
	for name, raw := range cases {
		if _, err := ParseDataFrame([]byte(raw)); !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: error = %v, want ErrValidation", name, err)
		}
	}
}
