// Package extraction turns free-text consultation transcripts into structured
// clinical records using a language model. Model output is untrusted: parsing
// is lenient per field and the engine retries once before giving up.
package extraction

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Medicine is one medicine entry as extracted from the transcript.
type Medicine struct {
	Name         string `json:"name"`
	Dosage       string `json:"dosage"`
	Frequency    string `json:"frequency"`
	Duration     string `json:"duration"`
	Instructions string `json:"instructions,omitempty"`
}

// ClinicalRecord is the structured output of transcript extraction.
type ClinicalRecord struct {
	ChiefComplaint string            `json:"chiefComplaint"`
	History        string            `json:"history"`
	Examination    string            `json:"examination"`
	Vitals         map[string]string `json:"vitals"`
	Diagnosis      string            `json:"diagnosis"`
	TreatmentPlan  string            `json:"treatmentPlan"`
	Medicines      []Medicine        `json:"medicines"`
	LabTests       []string          `json:"labTests"`
	Advice         string            `json:"advice"`
	FollowUp       string            `json:"followUp"`
}

// PatientExplanation is the patient-facing explanation of a prescription in
// the patient's preferred language.
type PatientExplanation struct {
	Explanation          string   `json:"explanation"`
	MedicineInstructions []string `json:"medicineInstructions"`
	Precautions          []string `json:"precautions"`
	EmergencyWarning     string   `json:"emergencyWarning"`
}

// parseClinicalRecord decodes model output field by field. A field that fails
// to decode falls back to its zero value rather than failing the whole parse;
// only output with no JSON object at all is an error.
func parseClinicalRecord(raw string) (*ClinicalRecord, error) {
	obj, err := firstJSONObject(raw)
	if err != nil {
		return nil, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(obj), &fields); err != nil {
		return nil, fmt.Errorf("decode object: %w", err)
	}

	rec := &ClinicalRecord{
		Vitals:    map[string]string{},
		Medicines: []Medicine{},
		LabTests:  []string{},
	}
	decodeString(fields, "chiefComplaint", &rec.ChiefComplaint)
	decodeString(fields, "history", &rec.History)
	decodeString(fields, "examination", &rec.Examination)
	decodeString(fields, "diagnosis", &rec.Diagnosis)
	decodeString(fields, "treatmentPlan", &rec.TreatmentPlan)
	decodeString(fields, "advice", &rec.Advice)
	decodeString(fields, "followUp", &rec.FollowUp)
	decodeVitals(fields, &rec.Vitals)

	if raw, ok := fields["medicines"]; ok {
		var medicines []Medicine
		if json.Unmarshal(raw, &medicines) == nil && medicines != nil {
			rec.Medicines = medicines
		}
	}
	if raw, ok := fields["labTests"]; ok {
		var tests []string
		if json.Unmarshal(raw, &tests) == nil && tests != nil {
			rec.LabTests = tests
		}
	}
	return rec, nil
}

// parsePatientExplanation applies the same lenient contract to the
// explanation response.
func parsePatientExplanation(raw string) (*PatientExplanation, error) {
	obj, err := firstJSONObject(raw)
	if err != nil {
		return nil, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(obj), &fields); err != nil {
		return nil, fmt.Errorf("decode object: %w", err)
	}

	exp := &PatientExplanation{
		MedicineInstructions: []string{},
		Precautions:          []string{},
	}
	decodeString(fields, "explanation", &exp.Explanation)
	decodeString(fields, "emergencyWarning", &exp.EmergencyWarning)

	if raw, ok := fields["medicineInstructions"]; ok {
		var list []string
		if json.Unmarshal(raw, &list) == nil && list != nil {
			exp.MedicineInstructions = list
		}
	}
	if raw, ok := fields["precautions"]; ok {
		var list []string
		if json.Unmarshal(raw, &list) == nil && list != nil {
			exp.Precautions = list
		}
	}
	return exp, nil
}

func decodeString(fields map[string]json.RawMessage, key string, dst *string) {
	raw, ok := fields[key]
	if !ok {
		return
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		*dst = s
	}
}

// decodeVitals accepts either string or numeric values; models mix the two.
func decodeVitals(fields map[string]json.RawMessage, dst *map[string]string) {
	raw, ok := fields["vitals"]
	if !ok {
		return
	}
	var loose map[string]interface{}
	if json.Unmarshal(raw, &loose) != nil {
		return
	}
	out := map[string]string{}
	for k, v := range loose {
		switch val := v.(type) {
		case string:
			out[k] = val
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			out[k] = fmt.Sprintf("%t", val)
		}
	}
	*dst = out
}

// firstJSONObject returns the first balanced {...} block in s. Models often
// wrap JSON in prose or markdown fences, so everything around the block is
// ignored. Brace depth is tracked outside of string literals only.
func firstJSONObject(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", fmt.Errorf("no JSON object in output")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unterminated JSON object in output")
}
