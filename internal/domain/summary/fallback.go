package summary

import (
	"fmt"
	"strings"
)

const (
	fallbackLines = 3

	unparsedNotice = "Clinical notes are available but could not be parsed into SOAP format. " +
		"Please review individual notes for details."
)

// FallbackSummary builds a short rule-based summary from SOAP-style notes.
// It is used whenever no language model produced text.
func FallbackSummary(name string, age int, notesText string) string {
	return Parser{}.Fallback(name, age, notesText)
}

// Fallback is FallbackSummary using p's header matching. Only the full
// marker words are recognised here; "s:" style abbreviations are not.
func (p Parser) Fallback(name string, age int, notesText string) string {
	collected := map[section][]string{}
	current := sectionNone

	for _, raw := range strings.Split(notesText, "\n") {
		line := strings.TrimSpace(raw)
		if next := p.header(strings.ToLower(line), false); next != sectionNone {
			current = next
			continue
		}
		if current != sectionNone && line != "" {
			collected[current] = append(collected[current], line)
		}
	}

	parts := []string{fmt.Sprintf("Patient %s, %d years old.", name, age)}
	if lines := collected[sectionAssessment]; len(lines) > 0 {
		parts = append(parts, "Assessment: "+strings.Join(head(lines, fallbackLines), " "))
	}
	if lines := collected[sectionPlan]; len(lines) > 0 {
		parts = append(parts, "Plan: "+strings.Join(head(lines, fallbackLines), " "))
	}
	if lines := collected[sectionSubjective]; len(lines) > 0 {
		parts = append(parts, "Chief complaint: "+lines[0])
	}
	if len(collected) == 0 {
		parts = append(parts, unparsedNotice)
	}
	return strings.Join(parts, " ")
}

func head(lines []string, n int) []string {
	if len(lines) > n {
		return lines[:n]
	}
	return lines
}
