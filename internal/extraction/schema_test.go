package extraction

import (
	"testing"
)

func TestFirstJSONObject(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:  "bare object",
			input: `{"a": 1}`,
			want:  `{"a": 1}`,
		},
		{
			name:  "prose around object",
			input: "Here is the extraction:\n```json\n{\"a\": 1}\n```\nLet me know if you need anything else.",
			want:  `{"a": 1}`,
		},
		{
			name:  "nested objects",
			input: `{"vitals": {"bp": "120/80"}, "diagnosis": "x"}`,
			want:  `{"vitals": {"bp": "120/80"}, "diagnosis": "x"}`,
		},
		{
			name:  "braces inside string literals",
			input: `{"note": "use {curly} braces and a \" quote"}`,
			want:  `{"note": "use {curly} braces and a \" quote"}`,
		},
		{
			name:    "no object",
			input:   "I could not extract anything from this transcript.",
			wantErr: true,
		},
		{
			name:    "unterminated object",
			input:   `{"a": {"b": 1}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := firstJSONObject(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseClinicalRecordLenientFields(t *testing.T) {
	// diagnosis is mistyped, medicines malformed: both must fall back to
	// zero values instead of failing the parse.
	raw := `{
		"chiefComplaint": "fever for 3 days",
		"diagnosis": 42,
		"medicines": "amoxicillin",
		"vitals": {"temperature": 101.4, "bp": "130/85", "fasting": true},
		"labTests": ["CBC"]
	}`

	rec, err := parseClinicalRecord(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if rec.ChiefComplaint != "fever for 3 days" {
		t.Errorf("chiefComplaint = %q", rec.ChiefComplaint)
	}
	if rec.Diagnosis != "" {
		t.Errorf("mistyped diagnosis should default to empty, got %q", rec.Diagnosis)
	}
	if rec.Medicines == nil || len(rec.Medicines) != 0 {
		t.Errorf("malformed medicines should default to empty slice, got %#v", rec.Medicines)
	}
	if len(rec.LabTests) != 1 || rec.LabTests[0] != "CBC" {
		t.Errorf("labTests = %#v", rec.LabTests)
	}
}

func TestParseClinicalRecordEmptyObject(t *testing.T) {
	rec, err := parseClinicalRecord(`{}`)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if rec.Vitals == nil || rec.Medicines == nil || rec.LabTests == nil {
		t.Error("collections must be initialized, not nil")
	}
}

func TestDecodeVitalsCoercion(t *testing.T) {
	raw := `{"vitals": {"temperature": 101.4, "pulse": 88, "bp": "120/80", "fasting": true, "ignored": [1]}}`
	rec, err := parseClinicalRecord(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	want := map[string]string{
		"temperature": "101.4",
		"pulse":       "88",
		"bp":          "120/80",
		"fasting":     "true",
	}
	if len(rec.Vitals) != len(want) {
		t.Fatalf("vitals = %#v", rec.Vitals)
	}
	for k, v := range want {
		if rec.Vitals[k] != v {
			t.Errorf("vitals[%q] = %q, want %q", k, rec.Vitals[k], v)
		}
	}
}

func TestParsePatientExplanation(t *testing.T) {
	raw := "Sure, here it is:\n" + `{
		"explanation": "aapko bukhar hai",
		"medicineInstructions": ["subah ek goli"],
		"precautions": null,
		"emergencyWarning": "saans lene me takleef ho to turant aayen"
	}`

	exp, err := parsePatientExplanation(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if exp.Explanation == "" || exp.EmergencyWarning == "" {
		t.Errorf("missing text fields: %#v", exp)
	}
	if len(exp.MedicineInstructions) != 1 {
		t.Errorf("medicineInstructions = %#v", exp.MedicineInstructions)
	}
	if exp.Precautions == nil {
		t.Error("null precautions should default to empty slice")
	}
}
