package protocol

import "github.com/xeipuuv/gojsonschema"

const configurationSchema = `{
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "signal": {
      "type": "object",
      "properties": {
        "n_cycles": {"type": "integer"},
        "sample_rate": {"type": "integer"},
        "nominal_freq": {"type": "integer"}
      },
      "required": ["n_cycles", "sample_rate", "nominal_freq"]
    },
    "synchrophasor": {
      "type": "object",
      "properties": {
        "frame_rate": {"type": "integer"},
        "number_of_dft_bins": {"type": "integer"},
        "ipdft_iterations": {"type": "integer"},
        "iter_e_ipdft_enable": {"type": "integer"},
        "iter_e_ipdft_iterations": {"type": "integer"},
        "interference_threshold": {"type": "number"}
      },
      "required": ["frame_rate", "number_of_dft_bins", "ipdft_iterations",
        "iter_e_ipdft_enable", "iter_e_ipdft_iterations", "interference_threshold"]
    },
    "rocof": {
      "type": "object",
      "properties": {
        "threshold_1": {"type": "number"},
        "threshold_2": {"type": "number"},
        "threshold_3": {"type": "number"},
        "low_pass_filter_1": {"type": "number"},
        "low_pass_filter_2": {"type": "number"},
        "low_pass_filter_3": {"type": "number"}
      },
      "required": ["threshold_1", "threshold_2", "threshold_3",
        "low_pass_filter_1", "low_pass_filter_2", "low_pass_filter_3"]
    }
  },
  "required": ["signal", "synchrophasor", "rocof"]
}`

const dataFrameSchema = `{
  "type": "object",
  "properties": {
    "timestamp": {
      "type": "object",
      "properties": {
        "SOC": {"type": "integer", "minimum": 0},
        "FRACSEC": {"type": "integer", "minimum": 0},
        "timebase": {"type": "integer", "minimum": 0}
      },
      "required": ["SOC", "FRACSEC", "timebase"]
    },
    "channels": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "channel_number": {"type": "integer"},
          "payload": {"type": "string"}
        },
        "required": ["channel_number", "payload"]
      }
    }
  },
  "required": ["timestamp", "channels"]
}`

var (
	configurationValidator = mustSchema(configurationSchema)
	dataFrameValidator     = mustSchema(dataFrameSchema)
)

func mustSchema(raw string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
	if err != nil {
		panic(err)
	}
	return schema
}
