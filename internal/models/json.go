package models

import "encoding/json"

// unitAlias avoids infinite recursion through Unit's custom (Un)MarshalJSON.
type unitAlias Unit

// MarshalJSON flattens Extensions into the top-level object, mirroring the
// original protocol's serde(flatten) behaviour for extension fields.
func (u Unit) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(unitAlias(u))
	if err != nil {
		return nil, err
	}
	if len(u.Extensions) == 0 {
		return base, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range u.Extensions {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		merged[k] = raw
	}
	return json.Marshal(merged)
}

// knownUnitFields lists the JSON keys owned by Unit's named fields; anything
// else present on the wire is collected into Extensions.
var knownUnitFields = map[string]bool{
	"id": true, "type": true, "content": true, "created_at": true,
	"author": true, "confidence": true, "assumptions": true, "source": true,
	"references": true, "visibility": true, "audience": true, "proof": true,
}

func (u *Unit) UnmarshalJSON(data []byte) error {
	var alias unitAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	ext := make(map[string]any)
	for k, v := range raw {
		if knownUnitFields[k] {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return err
		}
		ext[k] = val
	}
	*u = Unit(alias)
	if len(ext) > 0 {
		u.Extensions = ext
	}
	return nil
}
