package sensors

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedReading is returned for payloads that cannot be applied.
var ErrMalformedReading = errors.New("malformed sensor reading")

// Field aliases accepted from the device, in order of preference.
var (
	tempKeys  = []string{"temp", "temperature"}
	humKeys   = []string{"hum", "humidity"}
	soilKeys  = []string{"soil", "soilMoisture"}
	levelKeys = []string{"level", "waterLevel", "water_ml"}
	rainKeys  = []string{"rain"}
	flowKeys  = []string{"flow", "flowRate"}
)

// ParsePayload decodes a device JSON message into a Partial.
// Numbers may arrive as JSON numbers or numeric strings. A payload that is not
// a JSON object, has a non-numeric value for a known field, or has no known
// field at all is rejected with ErrMalformedReading.
func ParsePayload(payload []byte) (Partial, error) {
	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return Partial{}, fmt.Errorf("%w: %v", ErrMalformedReading, err)
	}
	if doc == nil {
		return Partial{}, fmt.Errorf("%w: not an object", ErrMalformedReading)
	}

	var p Partial
	var err error
	if p.Temp, err = pick(doc, tempKeys); err != nil {
		return Partial{}, err
	}
	if p.Hum, err = pick(doc, humKeys); err != nil {
		return Partial{}, err
	}
	if p.SoilMoisture, err = pick(doc, soilKeys); err != nil {
		return Partial{}, err
	}
	if p.WaterLevel, err = pick(doc, levelKeys); err != nil {
		return Partial{}, err
	}
	if p.Rain, err = pick(doc, rainKeys); err != nil {
		return Partial{}, err
	}
	if p.FlowRate, err = pick(doc, flowKeys); err != nil {
		return Partial{}, err
	}

	if p.Empty() {
		return Partial{}, fmt.Errorf("%w: no known fields", ErrMalformedReading)
	}
	return p, nil
}

// pick returns the first alias present in doc. JSON null counts as absent.
func pick(doc map[string]any, keys []string) (*float64, error) {
	for _, k := range keys {
		v, ok := doc[k]
		if !ok || v == nil {
			continue
		}
		f, err := toF64(v)
		if err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", ErrMalformedReading, k, err)
		}
		return &f, nil
	}
	return nil, nil
}

func toF64(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(t), 64)
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}
