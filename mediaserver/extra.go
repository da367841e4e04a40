package mediaserver

import "github.com/goccy/go-json"

// The server attaches deployment-defined fields to broadcasts, VoDs and
// settings. Typed structs keep the documented fields and carry the rest
// in an Extra map so a fetched object can be written back unchanged.

// decodeExtra unmarshals data into known and returns the fields the typed
// struct did not claim. known must marshal without custom methods so its
// emitted keys identify the claimed set.
func decodeExtra(data []byte, known interface{}) (map[string]json.RawMessage, error) {
	if err := json.Unmarshal(data, known); err != nil {
		return nil, err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	claimed, err := json.Marshal(known)
	if err != nil {
		return nil, err
	}
	var claimedKeys map[string]json.RawMessage
	if err := json.Unmarshal(claimed, &claimedKeys); err != nil {
		return nil, err
	}
	for key := range claimedKeys {
		delete(raw, key)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return raw, nil
}

// encodeExtra marshals known and overlays it on extra. Typed fields win
// over stale extra entries of the same name.
func encodeExtra(known interface{}, extra map[string]json.RawMessage) ([]byte, error) {
	claimed, err := json.Marshal(known)
	if err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return claimed, nil
	}
	merged := make(map[string]json.RawMessage, len(extra))
	for key, value := range extra {
		merged[key] = value
	}
	var claimedKeys map[string]json.RawMessage
	if err := json.Unmarshal(claimed, &claimedKeys); err != nil {
		return nil, err
	}
	for key, value := range claimedKeys {
		merged[key] = value
	}
	return json.Marshal(merged)
}
