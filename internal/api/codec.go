package api

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
	"google.golang.org/protobuf/types/known/structpb"
)

// decodeRequest decodes a request struct into out, a pointer to a struct
// with json tags. Numbers are accepted where strings are expected, so
// {"chat_id": 7} and {"chat_id": "7"} mean the same.
func decodeRequest(st *structpb.Struct, out any) error {
	var m map[string]any
	if st != nil {
		m = st.AsMap()
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.ComposeDecodeHookFunc(floatToIntHook()),
	})
	if err != nil {
		return fmt.Errorf("new decoder: %w", err)
	}
	if err := dec.Decode(m); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func floatToIntHook() mapstructure.DecodeHookFunc {
	return func(from, to reflect.Kind, data any) (any, error) {
		if from != reflect.Float64 {
			return data, nil
		}
		switch to {
		case reflect.Int:
			return int(data.(float64)), nil
		case reflect.Int64:
			return int64(data.(float64)), nil
		}
		return data, nil
	}
}

// toValue converts v to the JSON-shaped value structpb accepts by way of
// its JSON encoding.
func toValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// toStruct builds a response from fields whose values may be any
// JSON-encodable Go value.
func toStruct(fields map[string]any) (*structpb.Struct, error) {
	m := make(map[string]any, len(fields))
	for k, v := range fields {
		jv, err := toValue(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", k, err)
		}
		m[k] = jv
	}
	return structpb.NewStruct(m)
}
