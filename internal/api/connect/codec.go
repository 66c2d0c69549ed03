package connect

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// jsonCodec carries plain Go messages over the Connect protocol.
// It replaces connect's protobuf JSON codec under the same name.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(msg any) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode message")
	}
	return data, nil
}

func (jsonCodec) Unmarshal(data []byte, msg any) error {
	if len(data) == 0 {
		return nil
	}
	return errors.Wrap(json.Unmarshal(data, msg), "failed to decode message")
}
