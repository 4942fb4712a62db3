package stationrecord

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/sunflower/clinic/internal/domain/encounter"
	"github.com/sunflower/clinic/internal/platform/apperr"
)

type Vitals struct {
	TemperatureC    *float64 `json:"temperature_c,omitempty"`
	PulseBPM        *int     `json:"pulse_bpm,omitempty"`
	RespiratoryRate *int     `json:"respiratory_rate,omitempty"`
	SystolicMMHg    *int     `json:"systolic_mmhg,omitempty"`
	DiastolicMMHg   *int     `json:"diastolic_mmhg,omitempty"`
	SpO2Percent     *int     `json:"spo2_percent,omitempty"`
	WeightKg        *float64 `json:"weight_kg,omitempty"`
	HeightCm        *float64 `json:"height_cm,omitempty"`
}

type ScreeningPayload struct {
	Vitals         *Vitals  `json:"vitals"`
	ChiefComplaint string   `json:"chief_complaint,omitempty"`
	Allergies      []string `json:"allergies,omitempty"`
	Notes          string   `json:"notes,omitempty"`
}

type LabResult struct {
	TestCode       string `json:"test_code"`
	TestName       string `json:"test_name,omitempty"`
	Value          string `json:"value"`
	Unit           string `json:"unit,omitempty"`
	ReferenceRange string `json:"reference_range,omitempty"`
	Flag           string `json:"flag,omitempty"`
}

type LabPayload struct {
	Results       []LabResult `json:"results"`
	AttachmentIDs []uuid.UUID `json:"attachment_ids,omitempty"`
	Notes         string      `json:"notes,omitempty"`
}

type Diagnosis struct {
	Code        string `json:"code,omitempty"`
	Description string `json:"description"`
}

type Prescription struct {
	Drug         string `json:"drug"`
	Dosage       string `json:"dosage"`
	Frequency    string `json:"frequency,omitempty"`
	Duration     string `json:"duration,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

type LabOrder struct {
	TestCode string `json:"test_code"`
	Notes    string `json:"notes,omitempty"`
}

type DoctorReviewPayload struct {
	Diagnosis     *Diagnosis     `json:"diagnosis"`
	Prescriptions []Prescription `json:"prescriptions,omitempty"`
	LabOrders     []LabOrder     `json:"lab_orders,omitempty"`
	Notes         string         `json:"notes,omitempty"`
}

type HealthCheckPayload struct {
	Conclusion      string   `json:"conclusion"`
	Classification  string   `json:"classification,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
	Notes           string   `json:"notes,omitempty"`
}

var labFlags = map[string]bool{"normal": true, "low": true, "high": true, "critical": true}

var healthClasses = map[string]bool{"I": true, "II": true, "III": true, "IV": true, "V": true}

// Validate strictly decodes raw as the payload of kind and returns its
// normalized encoding. Unknown fields are rejected.
func Validate(kind encounter.RecordKind, raw json.RawMessage) (json.RawMessage, error) {
	var payload interface{ validate() error }
	switch kind {
	case encounter.RecordScreening:
		payload = &ScreeningPayload{}
	case encounter.RecordLab:
		payload = &LabPayload{}
	case encounter.RecordDoctorReview:
		payload = &DoctorReviewPayload{}
	case encounter.RecordHealthCheck:
		payload = &HealthCheckPayload{}
	default:
		return nil, apperr.Validation("unknown record kind %q", kind)
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, apperr.Validation("%s record payload is required", kind).WithDetail("record_kind", string(kind))
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(payload); err != nil {
		return nil, apperr.Validation("malformed %s record: %v", kind, err).WithDetail("record_kind", string(kind))
	}
	if dec.More() {
		return nil, apperr.Validation("malformed %s record: trailing data", kind).WithDetail("record_kind", string(kind))
	}
	if err := payload.validate(); err != nil {
		return nil, apperr.Validation("invalid %s record: %v", kind, err).WithDetail("record_kind", string(kind))
	}

	out, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s record: %w", kind, err)
	}
	return out, nil
}

// LabAttachmentIDs returns the attachments a lab payload references.
func LabAttachmentIDs(raw json.RawMessage) []uuid.UUID {
	var p LabPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil
	}
	return p.AttachmentIDs
}

func checkRange[T int | float64](name string, v *T, lo, hi T) error {
	if v == nil {
		return nil
	}
	if *v < lo || *v > hi {
		return fmt.Errorf("%s %v outside %v-%v", name, *v, lo, hi)
	}
	return nil
}

func (p *ScreeningPayload) validate() error {
	v := p.Vitals
	if v == nil {
		return fmt.Errorf("vitals are required")
	}
	if v.TemperatureC == nil && v.PulseBPM == nil && v.RespiratoryRate == nil && v.SystolicMMHg == nil &&
		v.DiastolicMMHg == nil && v.SpO2Percent == nil && v.WeightKg == nil && v.HeightCm == nil {
		return fmt.Errorf("at least one vital sign is required")
	}
	checks := []error{
		checkRange("temperature_c", v.TemperatureC, 30, 45),
		checkRange("pulse_bpm", v.PulseBPM, 20, 250),
		checkRange("respiratory_rate", v.RespiratoryRate, 4, 80),
		checkRange("systolic_mmhg", v.SystolicMMHg, 50, 300),
		checkRange("diastolic_mmhg", v.DiastolicMMHg, 20, 200),
		checkRange("spo2_percent", v.SpO2Percent, 50, 100),
		checkRange("weight_kg", v.WeightKg, 0.5, 500),
		checkRange("height_cm", v.HeightCm, 20, 260),
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}
	if (v.SystolicMMHg == nil) != (v.DiastolicMMHg == nil) {
		return fmt.Errorf("blood pressure needs both systolic and diastolic")
	}
	if v.SystolicMMHg != nil && *v.SystolicMMHg <= *v.DiastolicMMHg {
		return fmt.Errorf("systolic must exceed diastolic")
	}
	return nil
}

func (p *LabPayload) validate() error {
	if len(p.Results) == 0 {
		return fmt.Errorf("at least one result is required")
	}
	for i, r := range p.Results {
		if strings.TrimSpace(r.TestCode) == "" {
			return fmt.Errorf("results[%d].test_code is required", i)
		}
		if strings.TrimSpace(r.Value) == "" {
			return fmt.Errorf("results[%d].value is required", i)
		}
		if r.Flag != "" && !labFlags[r.Flag] {
			return fmt.Errorf("results[%d].flag %q is not one of normal, low, high, critical", i, r.Flag)
		}
	}
	for i, id := range p.AttachmentIDs {
		if id == uuid.Nil {
			return fmt.Errorf("attachment_ids[%d] is empty", i)
		}
	}
	return nil
}

func (p *DoctorReviewPayload) validate() error {
	if p.Diagnosis == nil || strings.TrimSpace(p.Diagnosis.Description) == "" {
		return fmt.Errorf("diagnosis.description is required")
	}
	for i, rx := range p.Prescriptions {
		if strings.TrimSpace(rx.Drug) == "" || strings.TrimSpace(rx.Dosage) == "" {
			return fmt.Errorf("prescriptions[%d] needs drug and dosage", i)
		}
	}
	for i, o := range p.LabOrders {
		if strings.TrimSpace(o.TestCode) == "" {
			return fmt.Errorf("lab_orders[%d].test_code is required", i)
		}
	}
	return nil
}

func (p *HealthCheckPayload) validate() error {
	if strings.TrimSpace(p.Conclusion) == "" {
		return fmt.Errorf("conclusion is required")
	}
	if p.Classification != "" && !healthClasses[p.Classification] {
		return fmt.Errorf("classification %q is not one of I-V", p.Classification)
	}
	return nil
}
