package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dental-counseling/internal/llm"
	"dental-counseling/pkg"
)

// Analyst is the AI classification service.  Every method either returns a
// fully validated value or an error; a *llm.ValidationError means the
// service answered with the wrong shape.
type Analyst interface {
	SOAP(ctx context.Context, conversation string, names pkg.Identification) (pkg.SOAPNote, error)
	Identify(ctx context.Context, conversation string) (pkg.Identification, error)
	Quality(ctx context.Context, conversation string) (pkg.QualityScores, error)
}

// LLMAnalyst implements Analyst on top of an llm.Client.
type LLMAnalyst struct {
	LLM llm.Client
}

// NewLLMAnalyst constructs an analyst.
func NewLLMAnalyst(client llm.Client) *LLMAnalyst {
	return &LLMAnalyst{LLM: client}
}

func (a *LLMAnalyst) ask(ctx context.Context, instruction, user string) (string, error) {
	return a.LLM.Chat(ctx, []llm.Message{
		{Role: "system", Content: instruction},
		{Role: "user", Content: user},
	})
}

// SOAP asks for a SOAP note.  Known names are passed as hints.
func (a *LLMAnalyst) SOAP(ctx context.Context, conversation string, names pkg.Identification) (pkg.SOAPNote, error) {
	user := fmt.Sprintf("Patient: %s\nDoctor: %s\n\nConversation:\n%s", names.PatientName, names.DoctorName, conversation)
	raw, err := a.ask(ctx, SOAPInstruction, user)
	if err != nil {
		return pkg.SOAPNote{}, err
	}
	resp, err := llm.DecodeSOAP(raw)
	if err != nil {
		return pkg.SOAPNote{}, err
	}
	return pkg.SOAPNote{
		Subjective:       resp.Subjective,
		Objective:        resp.Objective,
		Assessment:       resp.Assessment,
		Plan:             resp.Plan,
		Confidence:       resp.Confidence,
		GenerationMethod: pkg.MethodAIGenerated,
		CreatedAt:        time.Now().UTC(),
	}, nil
}

// Identify asks for the patient and doctor names.
func (a *LLMAnalyst) Identify(ctx context.Context, conversation string) (pkg.Identification, error) {
	raw, err := a.ask(ctx, IdentifyInstruction, "Conversation:\n"+conversation)
	if err != nil {
		return pkg.Identification{}, err
	}
	resp, err := llm.DecodeIdentification(raw)
	if err != nil {
		return pkg.Identification{}, err
	}
	return pkg.Identification{
		PatientName:       resp.PatientName,
		DoctorName:        resp.DoctorName,
		ConfidencePatient: resp.ConfidencePatient,
		ConfidenceDoctor:  resp.ConfidenceDoctor,
		Method:            pkg.MethodAIGenerated,
	}, nil
}

// Quality asks for the counseling quality scores.
func (a *LLMAnalyst) Quality(ctx context.Context, conversation string) (pkg.QualityScores, error) {
	raw, err := a.ask(ctx, QualityInstruction, "Conversation:\n"+conversation)
	if err != nil {
		return pkg.QualityScores{}, err
	}
	resp, err := llm.DecodeQuality(raw)
	if err != nil {
		return pkg.QualityScores{}, err
	}
	return pkg.QualityScores{
		SuccessPossibility:   resp.SuccessPossibility,
		PatientUnderstanding: resp.PatientUnderstanding,
		TreatmentConsent:     resp.TreatmentConsent,
		OverallQuality:       resp.OverallQuality,
		Improvements:         resp.Improvements,
		Positives:            resp.Positives,
		Method:               pkg.MethodAIGenerated,
	}, nil
}

// Conversation renders utterances as "role: text" lines, the form sent to the
// AI service and used for name extraction.
func Conversation(utts []pkg.Utterance) string {
	var b strings.Builder
	for _, u := range utts {
		label := u.SpeakerLabel
		if label == "" {
			label = string(u.Speaker)
		}
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(u.Text)
		b.WriteByte('\n')
	}
	return b.String()
}
