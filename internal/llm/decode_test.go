package llm

import (
	"context"
	"errors"
	"testing"
)

func TestDecodeSOAP(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		field string // empty means the reply is valid
	}{
		{"plain", `{"subjective":"s","objective":"o","assessment":"a","plan":"p","confidence":0.8}`, ""},
		{"fenced", "```json\n{\"subjective\":\"s\",\"objective\":\"o\",\"assessment\":\"a\",\"plan\":\"p\",\"confidence\":1}\n```", ""},
		{"wrapped in prose", `Here you go: {"subjective":"s","objective":"o","assessment":"a","plan":"p","confidence":0} hope it helps`, ""},
		{"missing plan", `{"subjective":"s","objective":"o","assessment":"a","confidence":0.5}`, "plan"},
		{"blank section", `{"subjective":"  ","objective":"o","assessment":"a","plan":"p","confidence":0.5}`, "subjective"},
		{"confidence out of range", `{"subjective":"s","objective":"o","assessment":"a","plan":"p","confidence":1.5}`, "confidence"},
		{"missing confidence", `{"subjective":"s","objective":"o","assessment":"a","plan":"p"}`, "confidence"},
		{"wrong type", `{"subjective":3,"objective":"o","assessment":"a","plan":"p","confidence":0.5}`, "-"},
		{"no object", `sorry, I cannot do that`, "-"},
		{"empty", ``, "-"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeSOAP(tt.raw)
			if tt.field == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if got.Subjective != "s" || got.Plan != "p" {
					t.Errorf("got %+v", got)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want *ValidationError", err)
			}
			if verr.Shape != "soap" {
				t.Errorf("shape = %q", verr.Shape)
			}
			if tt.field != "-" && verr.Field != tt.field {
				t.Errorf("field = %q, want %q", verr.Field, tt.field)
			}
		})
	}
}

func TestDecodeIdentification(t *testing.T) {
	got, err := DecodeIdentification(`{"patient_name":" 田中 ","doctor_name":"佐藤","confidence_patient":0.9,"confidence_doctor":0.6}`)
	if err != nil {
		t.Fatal(err)
	}
	if got.PatientName != "田中" || got.ConfidenceDoctor != 0.6 {
		t.Errorf("got %+v", got)
	}

	_, err = DecodeIdentification(`{"patient_name":"田中","doctor_name":"佐藤","confidence_patient":-0.1,"confidence_doctor":0.6}`)
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "confidence_patient" {
		t.Errorf("err = %v", err)
	}
}

func TestDecodeQuality(t *testing.T) {
	got, err := DecodeQuality(`{"success_possibility":0.8,"patient_understanding":0.7,"treatment_consent":0.6,"overall_quality":0.7,"positives":["clear", " "]}`)
	if err != nil {
		t.Fatal(err)
	}
	if got.Improvements != nil || len(got.Positives) != 1 || got.Positives[0] != "clear" {
		t.Errorf("lists = %q / %q", got.Improvements, got.Positives)
	}

	_, err = DecodeQuality(`{"success_possibility":0.8,"patient_understanding":0.7,"treatment_consent":0.6}`)
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "overall_quality" {
		t.Errorf("err = %v", err)
	}
}

func TestValidationErrorMessage(t *testing.T) {
	e := &ValidationError{Shape: "quality", Field: "overall_quality", Reason: "missing"}
	if got := e.Error(); got != "invalid quality response: overall_quality: missing" {
		t.Errorf("Error() = %q", got)
	}
	e = &ValidationError{Shape: "soap", Reason: "no JSON object in reply"}
	if got := e.Error(); got != "invalid soap response: no JSON object in reply" {
		t.Errorf("Error() = %q", got)
	}
}

func TestNewOpenAIClientWithoutKey(t *testing.T) {
	if c := NewOpenAIClient(Options{}); c != nil {
		t.Error("expected nil client without an API key")
	}
	var c *OpenAIClient
	if _, err := c.Chat(context.Background(), nil); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v", err)
	}
}
