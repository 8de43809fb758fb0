package session

import "github.com/goccy/go-json"

// wrappedConfig matches the "<node-id>": {"config": {...}} shape of a
// session definition's per-node top-level entries (spec §6).
type wrappedConfig struct {
	Config Config `json:"config"`
}

// UnmarshalJSON handles the definition's unusual top level, which mixes
// dynamic node-id keys with one literal "routing" key and an optional
// "messageFilter" key. Grounded on the shape in spec §6; there's no
// library that decodes a "known keys plus arbitrary keys" object
// without a manual pass over the raw field map.
func (d *Definition) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	d.Config = make(map[string]Config)
	for key, value := range raw {
		switch key {
		case "routing":
			if err := json.Unmarshal(value, &d.Routing); err != nil {
				return err
			}
		case "messageFilter":
			if err := json.Unmarshal(value, &d.MessageFilter); err != nil {
				return err
			}
		default:
			var wrapped wrappedConfig
			if err := json.Unmarshal(value, &wrapped); err != nil {
				return err
			}
			d.Config[key] = wrapped.Config
		}
	}

	return nil
}

// MarshalJSON mirrors UnmarshalJSON's flattening so a Definition can be
// re-serialized for logging or test fixtures.
func (d Definition) MarshalJSON() ([]byte, error) {
	raw := make(map[string]any, len(d.Config)+2)
	for nodeId, cfg := range d.Config {
		raw[nodeId] = wrappedConfig{Config: cfg}
	}
	if d.Routing != nil {
		raw["routing"] = d.Routing
	}
	if d.MessageFilter != nil {
		raw["messageFilter"] = d.MessageFilter
	}
	return json.Marshal(raw)
}
