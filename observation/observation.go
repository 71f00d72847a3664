package observation

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Type is the record type carried by every observation.
const Type = "device.observation"

// Error codes produced by the runtime itself. Tools may use their own codes.
const (
	CodeUnsupportedTool = "unsupported_tool"
	CodeInvalidArgs     = "invalid_args"
	CodeBadRequest      = "bad_request"
	CodeBadOp           = "bad_op"
	CodeNotImplemented  = "not_impl"
	CodeTimeout         = "timeout"
)

// Observation is the structured response a device emits for a command or an
// unsolicited event.
type Observation struct {
	Type      string `json:"type"`
	OK        bool   `json:"ok"`
	RequestID string `json:"request_id,omitempty"`
	Result    Result `json:"result"`
	Error     *Error `json:"error,omitempty"`
}

// Result holds the human-readable text and any produced assets.
type Result struct {
	Text   string  `json:"text"`
	Assets []Asset `json:"assets"`
}

// MarshalJSON always encodes assets as an array.
func (r Result) MarshalJSON() ([]byte, error) {
	type plain Result
	if r.Assets == nil {
		r.Assets = []Asset{}
	}
	return json.Marshal(plain(r))
}

// Error describes why a command failed.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Asset references a blob produced by a tool. Extra carries tool specific
// fields such as event_type and value.
type Asset struct {
	AssetID string
	Kind    string
	Mime    string
	URL     string
	Extra   map[string]any
}

type assetFields struct {
	AssetID string `json:"asset_id,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Mime    string `json:"mime,omitempty"`
	URL     string `json:"url,omitempty"`
}

var reservedAssetKeys = map[string]struct{}{
	"asset_id": {}, "kind": {}, "mime": {}, "url": {},
}

// MarshalJSON flattens Extra next to the well-known fields.
func (a Asset) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(assetFields{AssetID: a.AssetID, Kind: a.Kind, Mime: a.Mime, URL: a.URL})
	if err != nil {
		return nil, err
	}

	extra := make(map[string]any, len(a.Extra))
	for k, v := range a.Extra {
		if _, reserved := reservedAssetKeys[k]; reserved {
			continue
		}
		extra[k] = v
	}
	if len(extra) == 0 {
		return base, nil
	}

	tail, err := json.Marshal(extra)
	if err != nil {
		return nil, fmt.Errorf("asset extra fields: %w", err)
	}

	var buf bytes.Buffer
	buf.Write(base[:len(base)-1])
	if len(base) > 2 {
		buf.WriteByte(',')
	}
	buf.Write(tail[1:])
	return buf.Bytes(), nil
}

// UnmarshalJSON keeps unknown fields in Extra.
func (a *Asset) UnmarshalJSON(data []byte) error {
	var fields assetFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}

	*a = Asset{AssetID: fields.AssetID, Kind: fields.Kind, Mime: fields.Mime, URL: fields.URL}
	for k, v := range all {
		if _, reserved := reservedAssetKeys[k]; reserved {
			continue
		}
		if a.Extra == nil {
			a.Extra = make(map[string]any)
		}
		a.Extra[k] = v
	}
	return nil
}

// Clone returns a deep copy of the asset list so URL patching never aliases
// the caller's slice.
func (o Observation) Clone() Observation {
	out := o
	if o.Result.Assets != nil {
		out.Result.Assets = make([]Asset, len(o.Result.Assets))
		for i, a := range o.Result.Assets {
			if a.Extra != nil {
				extra := make(map[string]any, len(a.Extra))
				for k, v := range a.Extra {
					extra[k] = v
				}
				a.Extra = extra
			}
			out.Result.Assets[i] = a
		}
	}
	if o.Error != nil {
		e := *o.Error
		out.Error = &e
	}
	return out
}

// Marshal encodes the observation as JSON.
func (o Observation) Marshal() ([]byte, error) {
	return json.Marshal(o)
}

// Parse decodes an observation. Records with a different type are rejected.
func Parse(data []byte) (Observation, error) {
	var o Observation
	if err := json.Unmarshal(data, &o); err != nil {
		return Observation{}, err
	}
	if o.Type != Type {
		return Observation{}, fmt.Errorf("unexpected record type %q", o.Type)
	}
	return o, nil
}
