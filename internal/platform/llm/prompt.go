package llm

import (
	"fmt"
	"strings"
)

// SystemPrompt is the system instruction sent to the hosted chat backends.
const SystemPrompt = "You are a medical assistant that creates clear, accurate patient summaries."

const (
	clinicianInstruction = "Use clinical terminology appropriate for healthcare professionals."
	familyInstruction    = "Use plain language suitable for family members without medical background."
)

// BuildPrompt renders the summary instruction shared by every backend.
// Any audience other than family gets the clinician wording.
func BuildPrompt(patientName string, age int, notesText string, audience Audience, maxLength int) string {
	instruction := clinicianInstruction
	if audience == AudienceFamily {
		instruction = familyInstruction
	}

	var b strings.Builder
	b.WriteString("Generate a concise patient summary based on the following medical notes.\n\n")
	fmt.Fprintf(&b, "Patient: %s, %d years old\n\n", patientName, age)
	b.WriteString(instruction)
	b.WriteString("\n\n")
	b.WriteString("The summary should:\n")
	b.WriteString("- Highlight key diagnoses and conditions\n")
	b.WriteString("- Note current medications\n")
	b.WriteString("- Summarize important observations and assessments\n")
	b.WriteString("- Outline the treatment plan\n")
	fmt.Fprintf(&b, "- Be no longer than %d characters\n\n", maxLength)
	b.WriteString("Medical Notes:\n")
	b.WriteString(notesText)
	b.WriteString("\n\nSummary:")
	return b.String()
}

func buildPrompt(req Request) string {
	return BuildPrompt(req.PatientName, req.Age, req.NotesText, req.Audience, req.MaxLength)
}
