package tunopb

import "fmt"

// Codec is the gRPC codec for Message values. It registers under the name
// "proto" so peers see ordinary application/grpc+proto traffic.
type Codec struct{}

func (Codec) Name() string { return "proto" }

func (Codec) Marshal(v any) ([]byte, error) {
	m, ok := v.(Message)
	if !ok {
		return nil, fmt.Errorf("tunopb: cannot marshal %T", v)
	}
	return m.Marshal(), nil
}

func (Codec) Unmarshal(data []byte, v any) error {
	m, ok := v.(Message)
	if !ok {
		return fmt.Errorf("tunopb: cannot unmarshal into %T", v)
	}
	return m.Unmarshal(data)
}
