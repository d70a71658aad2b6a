// Package protocol defines the gateway wire documents and validates them
// against their JSON schemas before they are decoded into typed structs.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/NodePath81/pmugateway/internal/estimator"
	"github.com/xeipuuv/gojsonschema"
)

// ErrValidation marks a document that is malformed or incomplete.
var ErrValidation = errors.New("validation failed")

type Signal struct {
	NCycles     int `json:"n_cycles" yaml:"n_cycles"`
	SampleRate  int `json:"sample_rate" yaml:"sample_rate"`
	NominalFreq int `json:"nominal_freq" yaml:"nominal_freq"`
}

type Synchrophasor struct {
	FrameRate             int     `json:"frame_rate" yaml:"frame_rate"`
	NumberOfDFTBins       int     `json:"number_of_dft_bins" yaml:"number_of_dft_bins"`
	IpDFTIterations       int     `json:"ipdft_iterations" yaml:"ipdft_iterations"`
	IterEIpDFTEnable      int     `json:"iter_e_ipdft_enable" yaml:"iter_e_ipdft_enable"`
	IterEIpDFTIterations  int     `json:"iter_e_ipdft_iterations" yaml:"iter_e_ipdft_iterations"`
	InterferenceThreshold float64 `json:"interference_threshold" yaml:"interference_threshold"`
}

type Rocof struct {
	Threshold1     float64 `json:"threshold_1" yaml:"threshold_1"`
	Threshold2     float64 `json:"threshold_2" yaml:"threshold_2"`
	Threshold3     float64 `json:"threshold_3" yaml:"threshold_3"`
	LowPassFilter1 float64 `json:"low_pass_filter_1" yaml:"low_pass_filter_1"`
	LowPassFilter2 float64 `json:"low_pass_filter_2" yaml:"low_pass_filter_2"`
	LowPassFilter3 float64 `json:"low_pass_filter_3" yaml:"low_pass_filter_3"`
}

// Configuration is the estimator configuration document. Values are only
// type-checked; ranges are left to the estimator.
type Configuration struct {
	Signal        Signal        `json:"signal" yaml:"signal"`
	Synchrophasor Synchrophasor `json:"synchrophasor" yaml:"synchrophasor"`
	Rocof         Rocof         `json:"rocof" yaml:"rocof"`
}

// EstimatorConfig copies the document into estimator parameter names.
func (c Configuration) EstimatorConfig() estimator.Config {
	return estimator.Config{
		NCycles:               c.Signal.NCycles,
		SampleRate:            c.Signal.SampleRate,
		NominalFreq:           c.Signal.NominalFreq,
		FrameRate:             c.Synchrophasor.FrameRate,
		NBins:                 c.Synchrophasor.NumberOfDFTBins,
		P:                     c.Synchrophasor.IpDFTIterations,
		IterEIpDFT:            c.Synchrophasor.IterEIpDFTEnable,
		Q:                     c.Synchrophasor.IterEIpDFTIterations,
		InterferenceThreshold: c.Synchrophasor.InterferenceThreshold,
		RocofThresholds:       [3]float64{c.Rocof.Threshold1, c.Rocof.Threshold2, c.Rocof.Threshold3},
		RocofLowPass:          [3]float64{c.Rocof.LowPassFilter1, c.Rocof.LowPassFilter2, c.Rocof.LowPassFilter3},
	}
}

type Timestamp struct {
	SOC      uint64 `json:"SOC"`
	FRACSEC  uint64 `json:"FRACSEC"`
	Timebase uint64 `json:"timebase"`
}

type Channel struct {
	ChannelNumber int    `json:"channel_number"`
	Payload       string `json:"payload"`
}

// Key is the result label for the channel.
func (c Channel) Key() string {
	return fmt.Sprintf("channel_%d", c.ChannelNumber)
}

type DataFrame struct {
	Timestamp Timestamp `json:"timestamp"`
	Channels  []Channel `json:"channels"`
}

// ParseConfiguration validates raw against the configuration schema and
// decodes it.
func ParseConfiguration(raw []byte) (Configuration, error) {
	var cfg Configuration
	if err := decode(configurationValidator, "configuration", raw, &cfg); err != nil {
		return Configuration{}, err
	}
	return cfg, nil
}

// ParseDataFrame validates raw against the data-frame schema and decodes it.
// Channel numbers must be unique within a frame.
func ParseDataFrame(raw []byte) (DataFrame, error) {
	var frame DataFrame
	if err := decode(dataFrameValidator, "data_frame", raw, &frame); err != nil {
		return DataFrame{}, err
	}
	seen := make(map[int]struct{}, len(frame.Channels))
	for _, ch := range frame.Channels {
		if _, ok := seen[ch.ChannelNumber]; ok {
			return DataFrame{}, fmt.Errorf("%w: data_frame.channels: duplicate channel_number %d", ErrValidation, ch.ChannelNumber)
		}
		seen[ch.ChannelNumber] = struct{}{}
	}
	return frame, nil
}

func decode(schema *gojsonschema.Schema, name string, raw []byte, out any) error {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return fmt.Errorf("%w: %s is required", ErrValidation, name)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrValidation, name, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, verr := range result.Errors() {
			msgs = append(msgs, verr.String())
		}
		return fmt.Errorf("%w: %s: %s", ErrValidation, name, strings.Join(msgs, "; "))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrValidation, name, err)
	}
	return nil
}
