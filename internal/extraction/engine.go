package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/medscribe/go-scribe/internal/domain/apperror"
)

const serviceName = "language model"

// languageNames maps ISO codes to the language used in the explanation
// prompt. Unknown codes fall back to the configured default.
var languageNames = map[string]string{
	"hi": "Hindi",
	"en": "English",
	"ta": "Tamil",
	"te": "Telugu",
	"bn": "Bengali",
	"mr": "Marathi",
	"gu": "Gujarati",
	"kn": "Kannada",
	"ml": "Malayalam",
}

// Config holds extraction engine configuration
type Config struct {
	// Timeout bounds a single model call
	Timeout time.Duration
	// DefaultLanguage is used when the requested language code is unknown
	DefaultLanguage string
}

// DefaultConfig returns defaults suitable for consultation processing
func DefaultConfig() Config {
	return Config{
		Timeout:         45 * time.Second,
		DefaultLanguage: "hi",
	}
}

// Engine runs structured extraction over a Completer.
type Engine struct {
	cfg       Config
	completer Completer
	logger    *zap.Logger
}

// NewEngine creates a new extraction engine
func NewEngine(cfg Config, completer Completer, logger *zap.Logger) (*Engine, error) {
	if completer == nil {
		return nil, fmt.Errorf("completer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if _, ok := languageNames[cfg.DefaultLanguage]; !ok {
		cfg.DefaultLanguage = DefaultConfig().DefaultLanguage
	}
	return &Engine{cfg: cfg, completer: completer, logger: logger}, nil
}

// ExtractClinicalRecord derives structured clinical fields from the final
// consultation transcript. Malformed model output gets one fresh attempt; a
// second malformed response surfaces as MalformedAIResponse with the raw
// output attached.
func (e *Engine) ExtractClinicalRecord(ctx context.Context, transcript string) (*ClinicalRecord, error) {
	if strings.TrimSpace(transcript) == "" {
		return nil, apperror.Validationf("transcript is empty")
	}

	prompt := extractionPrompt(transcript)

	var lastRaw string
	for attempt := 0; attempt < 2; attempt++ {
		raw, err := e.complete(ctx, prompt)
		if err != nil {
			return nil, err
		}
		lastRaw = raw

		rec, perr := parseClinicalRecord(raw)
		if perr == nil {
			return rec, nil
		}
		e.logger.Warn("unparseable extraction output",
			zap.Int("attempt", attempt+1),
			zap.Error(perr))
	}
	return nil, apperror.MalformedAI(serviceName, fmt.Errorf("no parseable clinical record after retry"), lastRaw)
}

// ExplainForPatient produces a plain-language explanation of a prescription
// in the patient's preferred language. Same call contract as extraction:
// bounded, one retry, MalformedAIResponse on persistent garbage.
func (e *Engine) ExplainForPatient(ctx context.Context, diagnosis string, medicines []Medicine, languageCode string) (*PatientExplanation, error) {
	language, ok := languageNames[languageCode]
	if !ok {
		language = languageNames[e.cfg.DefaultLanguage]
	}

	prompt := explanationPrompt(diagnosis, medicines, language)

	var lastRaw string
	for attempt := 0; attempt < 2; attempt++ {
		raw, err := e.complete(ctx, prompt)
		if err != nil {
			return nil, err
		}
		lastRaw = raw

		exp, perr := parsePatientExplanation(raw)
		if perr == nil {
			return exp, nil
		}
		e.logger.Warn("unparseable explanation output",
			zap.Int("attempt", attempt+1),
			zap.Error(perr))
	}
	return nil, apperror.MalformedAI(serviceName, fmt.Errorf("no parseable explanation after retry"), lastRaw)
}

func (e *Engine) complete(ctx context.Context, prompt string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	out, err := e.completer.Complete(cctx, prompt)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", apperror.ExternalTimeout(serviceName, err)
		}
		return "", apperror.External(serviceName, err)
	}
	return out, nil
}

func extractionPrompt(transcript string) string {
	var b strings.Builder
	b.WriteString("You are a medical scribe assistant. Extract structured clinical information from this doctor-patient consultation transcript.\n\n")
	b.WriteString("Transcript:\n")
	b.WriteString(transcript)
	b.WriteString("\n\nRespond with ONLY a JSON object in exactly this shape:\n")
	b.WriteString(`{
  "chiefComplaint": "main reason for visit",
  "history": "history of present illness",
  "examination": "examination findings mentioned",
  "vitals": {"bp": "", "pulse": "", "temperature": "", "weight": ""},
  "diagnosis": "diagnosis or clinical impression",
  "treatmentPlan": "treatment plan discussed",
  "medicines": [{"name": "", "dosage": "", "frequency": "", "duration": "", "instructions": ""}],
  "labTests": ["test names if any ordered"],
  "advice": "lifestyle or general advice given",
  "followUp": "follow-up instructions if any"
}`)
	b.WriteString("\n\nUse empty strings, empty arrays or empty objects for anything not mentioned. Do not invent clinical facts.")
	return b.String()
}

func explanationPrompt(diagnosis string, medicines []Medicine, language string) string {
	var b strings.Builder
	b.WriteString("You are a helpful medical assistant. Explain this prescription to the patient in simple ")
	b.WriteString(language)
	b.WriteString(". Use everyday words, no medical jargon.\n\n")
	b.WriteString("Diagnosis: ")
	b.WriteString(diagnosis)
	b.WriteString("\nMedicines:\n")
	for _, m := range medicines {
		fmt.Fprintf(&b, "- %s %s, %s, for %s", m.Name, m.Dosage, m.Frequency, m.Duration)
		if m.Instructions != "" {
			b.WriteString(" (")
			b.WriteString(m.Instructions)
			b.WriteString(")")
		}
		b.WriteString("\n")
	}
	b.WriteString("\nRespond with ONLY a JSON object in exactly this shape:\n")
	b.WriteString(`{
  "explanation": "what the condition is and why these medicines help",
  "medicineInstructions": ["how and when to take each medicine"],
  "precautions": ["things to avoid or watch for"],
  "emergencyWarning": "when to seek immediate care"
}`)
	b.WriteString("\n\nWrite every value in ")
	b.WriteString(language)
	b.WriteString(".")
	return b.String()
}
