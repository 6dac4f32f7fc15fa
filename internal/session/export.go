package session

import (
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/srg/puttlab/internal/state"
)

// Export formats.
const (
	FormatProto = "pb"
	FormatJSON  = "json"
)

// ToStruct converts a snapshot into a protobuf Struct. Entry payloads go
// through their JSON form, so byte slices become base64 strings.
func ToStruct(snap state.SessionSnapshot) (*structpb.Struct, error) {
	entries := make([]any, len(snap.Entries))
	for i, e := range snap.Entries {
		data, err := plain(e.Data)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		entries[i] = map[string]any{"data": data}
	}

	var start any
	if snap.Start != nil {
		start = snap.Start.UTC().Format(time.RFC3339Nano)
	}

	return structpb.NewStruct(map[string]any{
		"start":          start,
		"entries":        entries,
		"puttsMadeCount": snap.PuttsMadeCount,
		"speed":          snap.Speed,
	})
}

// plain reduces v to the types structpb accepts.
func plain(v any) (any, error) {
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

// Encode serializes a snapshot as binary protobuf ("pb") or protobuf JSON ("json").
func Encode(snap state.SessionSnapshot, format string) ([]byte, error) {
	st, err := ToStruct(snap)
	if err != nil {
		return nil, fmt.Errorf("convert session: %w", err)
	}

	switch format {
	case FormatProto:
		return proto.Marshal(st)
	case FormatJSON:
		return protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(st)
	default:
		return nil, fmt.Errorf("unknown export format %q (want %s or %s)", format, FormatProto, FormatJSON)
	}
}

// Decode parses data written by Encode.
func Decode(data []byte, format string) (*structpb.Struct, error) {
	st := &structpb.Struct{}
	var err error
	switch format {
	case FormatProto:
		err = proto.Unmarshal(data, st)
	case FormatJSON:
		err = protojson.Unmarshal(data, st)
	default:
		return nil, fmt.Errorf("unknown export format %q (want %s or %s)", format, FormatProto, FormatJSON)
	}
	if err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return st, nil
}

// EntriesJSON returns the entries in the {"data": ...} shape the backend's
// stroke endpoint stores.
func EntriesJSON(snap state.SessionSnapshot) (json.RawMessage, error) {
	raw, err := json.Marshal(snap.Entries)
	if err != nil {
		return nil, fmt.Errorf("encode entries: %w", err)
	}
	return raw, nil
}
