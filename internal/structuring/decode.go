package structuring

import (
	"encoding/json"
	"strings"

	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/domain"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/observability"
)

// rawComponent is one element of the service response. Some models emit
// "component" instead of "type".
type rawComponent struct {
	Type      string          `json:"type"`
	Component string          `json:"component"`
	Props     json.RawMessage `json:"props"`
}

// Decode parses a service response into components, running the repair
// ladder when the raw text is not valid JSON. Elements that cannot be
// mapped onto the vocabulary are dropped.
func Decode(raw string, logger *observability.Logger) ([]domain.Component, error) {
	text := Repair(strings.TrimSpace(raw))

	var elems []json.RawMessage
	if err := json.Unmarshal([]byte(text), &elems); err != nil {
		var single json.RawMessage
		if err2 := json.Unmarshal([]byte(text), &single); err2 != nil || !strings.HasPrefix(strings.TrimSpace(text), "{") {
			return nil, domain.StructuringError("unparseable structuring response", err)
		}
		elems = []json.RawMessage{single}
	}

	out := make([]domain.Component, 0, len(elems))
	for _, elem := range elems {
		c, ok := decodeOne(elem, logger)
		if ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// Decodable reports whether raw survives the repair ladder.
func Decodable(raw string) bool {
	_, err := Decode(raw, observability.NopLogger())
	return err == nil
}

func decodeOne(elem json.RawMessage, logger *observability.Logger) (domain.Component, bool) {
	var rc rawComponent
	if err := json.Unmarshal(elem, &rc); err != nil {
		logger.Debug().Err(err).Msg("Dropping non-object component")
		return domain.Component{}, false
	}
	name := rc.Type
	if name == "" {
		name = rc.Component
	}

	if strings.EqualFold(strings.TrimSpace(name), "title") {
		props, err := domain.DecodeProps(domain.TypeHeading, rc.Props)
		if err != nil || !props.Valid() {
			logger.Debug().Str("type", name).Msg("Dropping component without required props")
			return domain.Component{}, false
		}
		h := props.(*domain.HeadingProps)
		h.Level = 1
		return domain.Component{Type: domain.TypeHeading, Props: h}, true
	}

	t, known := domain.ParseComponentType(name)
	if !known {
		text := textProp(rc.Props)
		if text == "" {
			logger.Debug().Str("type", name).Msg("Dropping unknown component type")
			return domain.Component{}, false
		}
		t = domain.TypeText
	}

	props, err := domain.DecodeProps(t, rc.Props)
	if err != nil {
		logger.Debug().Err(err).Str("type", name).Msg("Dropping component with malformed props")
		return domain.Component{}, false
	}
	if !props.Valid() {
		logger.Debug().Str("type", name).Msg("Dropping component without required props")
		return domain.Component{}, false
	}
	return domain.Component{Type: t, Props: props}, true
}

func textProp(raw json.RawMessage) string {
	var p struct {
		Text string `json:"text"`
	}
	if len(raw) == 0 || json.Unmarshal(raw, &p) != nil {
		return ""
	}
	return strings.TrimSpace(p.Text)
}
