package gate

import (
	"encoding/json"
	"math"
	"strconv"
)

// jsonFloat encodes non-finite values as the strings "NaN", "+Inf" and
// "-Inf" so invalid metrics survive a trip through WAL payloads and fixtures.
type jsonFloat float64

func (f jsonFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsNaN(v):
		return []byte(`"NaN"`), nil
	case math.IsInf(v, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Inf"`), nil
	}
	return strconv.AppendFloat(nil, v, 'g', -1, 64), nil
}

func (f *jsonFloat) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = jsonFloat(v)
	return nil
}

type metricsJSON struct {
	ThetaSpanDeg       jsonFloat `json:"theta_span_deg"`
	PhiSpanDeg         jsonFloat `json:"phi_span_deg"`
	L2PlusCount        int64     `json:"l2_plus_count"`
	L3Count            int64     `json:"l3_count"`
	ReprojRMSPx        jsonFloat `json:"reproj_rms_px"`
	EdgeRMSPx          jsonFloat `json:"edge_rms_px"`
	Sharpness          jsonFloat `json:"sharpness"`
	OverexposureRatio  jsonFloat `json:"overexposure_ratio"`
	UnderexposureRatio jsonFloat `json:"underexposure_ratio"`
}

// MarshalJSON writes snake_case fields; non-finite values become strings.
func (m Metrics) MarshalJSON() ([]byte, error) {
	return json.Marshal(metricsJSON{
		ThetaSpanDeg:       jsonFloat(m.ThetaSpanDeg),
		PhiSpanDeg:         jsonFloat(m.PhiSpanDeg),
		L2PlusCount:        m.L2PlusCount,
		L3Count:            m.L3Count,
		ReprojRMSPx:        jsonFloat(m.ReprojRMSPx),
		EdgeRMSPx:          jsonFloat(m.EdgeRMSPx),
		Sharpness:          jsonFloat(m.Sharpness),
		OverexposureRatio:  jsonFloat(m.OverexposureRatio),
		UnderexposureRatio: jsonFloat(m.UnderexposureRatio),
	})
}

// UnmarshalJSON accepts numbers or the strings "NaN", "+Inf", "-Inf".
func (m *Metrics) UnmarshalJSON(b []byte) error {
	var raw metricsJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*m = Metrics{
		ThetaSpanDeg:       float64(raw.ThetaSpanDeg),
		PhiSpanDeg:         float64(raw.PhiSpanDeg),
		L2PlusCount:        raw.L2PlusCount,
		L3Count:            raw.L3Count,
		ReprojRMSPx:        float64(raw.ReprojRMSPx),
		EdgeRMSPx:          float64(raw.EdgeRMSPx),
		Sharpness:          float64(raw.Sharpness),
		OverexposureRatio:  float64(raw.OverexposureRatio),
		UnderexposureRatio: float64(raw.UnderexposureRatio),
	}
	return nil
}
