package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/NodePath81/pmugateway/internal/estimator"
)

// Frame maps channel labels to estimator results in input order.
type Frame struct {
	keys    []string
	results map[string]*estimator.Result
}

func newFrame(capacity int) *Frame {
	return &Frame{
		keys:    make([]string, 0, capacity),
		results: make(map[string]*estimator.Result, capacity),
	}
}

func (f *Frame) set(key string, res *estimator.Result) {
	if _, ok := f.results[key]; !ok {
		f.keys = append(f.keys, key)
	}
	f.results[key] = res
}

func (f *Frame) Get(key string) (*estimator.Result, bool) {
	res, ok := f.results[key]
	return res, ok
}

// Keys returns the channel labels in input order.
func (f *Frame) Keys() []string {
	out := make([]string, len(f.keys))
	copy(out, f.keys)
	return out
}

func (f *Frame) Len() int {
	return len(f.keys)
}

func (f Frame) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range f.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.results[key])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (f *Frame) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("frame must be a JSON object")
	}
	out := newFrame(0)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("frame key must be a string")
		}
		var res estimator.Result
		if err := dec.Decode(&res); err != nil {
			return fmt.Errorf("frame %s: %w", key, err)
		}
		out.set(key, &res)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*f = *out
	return nil
}
