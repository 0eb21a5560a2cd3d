package gateway

import (
	"github.com/mitchellh/mapstructure"
)

// DecodeStatus flattens a gateway status/connect payload and decodes it.
//
// Gateways answer in slightly different shapes, e.g.
//
//	{"instance":{"status":"connected","owner":"5547...@s.whatsapp.net"},"status":{"connected":true,"loggedIn":true}}
//	{"status":"qrcode","connected":false,"qrcode":"data:image/png;base64,..."}
//
// Nested instance fields are read first, then the nested status flags, then
// top-level scalars, so an explicit top-level value wins.
func DecodeStatus(raw map[string]any) (StatusReport, error) {
	flat := make(map[string]any, len(raw)+8)
	if inst, ok := raw["instance"].(map[string]any); ok {
		for k, v := range inst {
			flat[k] = v
		}
		// "plataform" is a long-standing misspelling in some gateway builds.
		if v, ok := inst["plataform"]; ok {
			if _, has := flat["platform"]; !has {
				flat["platform"] = v
			}
		}
	}
	if st, ok := raw["status"].(map[string]any); ok {
		for k, v := range st {
			flat[k] = v
		}
	}
	for k, v := range raw {
		switch v.(type) {
		case map[string]any, []any:
			continue
		}
		if v == nil {
			continue
		}
		flat[k] = v
	}

	var rep StatusReport
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &rep,
	})
	if err != nil {
		return StatusReport{}, err
	}
	if err := dec.Decode(flat); err != nil {
		return StatusReport{}, err
	}
	return rep, nil
}
