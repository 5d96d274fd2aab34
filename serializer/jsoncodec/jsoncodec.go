// Package jsoncodec provides the one concrete serializer.Codec shipped
// with this module, registered under the name "json". Additional wire
// formats (e.g. protobuf) are an external concern: the core only
// specifies the registry contract.
package jsoncodec

import "encoding/json"

const name = "json"

// Codec implements serializer.Codec over encoding/json.
type Codec struct{}

// New returns the json codec.
func New() Codec {
	return Codec{}
}

// Name returns "json".
func (Codec) Name() string {
	return name
}

// Marshal serializes v to JSON.
func (Codec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal deserializes JSON data into v.
func (Codec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
