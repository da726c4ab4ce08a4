package summary

import "strings"

// Sections holds the four parts of a SOAP note.
type Sections struct {
	Subjective string `json:"subjective"`
	Objective  string `json:"objective"`
	Assessment string `json:"assessment"`
	Plan       string `json:"plan"`
}

// Empty reports whether no section has any content.
func (s Sections) Empty() bool {
	return s.Subjective == "" && s.Objective == "" && s.Assessment == "" && s.Plan == ""
}

type section int

const (
	sectionNone section = iota
	sectionSubjective
	sectionObjective
	sectionAssessment
	sectionPlan
)

// markers are checked in this order; the first match wins.
var markers = []struct {
	section section
	word    string
	abbrev  string
}{
	{sectionSubjective, "subjective", "s:"},
	{sectionObjective, "objective", "o:"},
	{sectionAssessment, "assessment", "a:"},
	{sectionPlan, "plan", "p:"},
}

// Parser splits free-text notes into SOAP sections.
//
// By default a line is a header when it contains a marker anywhere, so
// "Patient will plan a visit" switches to the plan section. Strict mode
// only accepts lines that start with the marker.
type Parser struct {
	Strict bool
}

// header classifies a lowercased, trimmed line. abbrev controls whether the
// two-character forms ("s:", "o:", ...) count as markers.
func (p Parser) header(line string, abbrev bool) section {
	for _, m := range markers {
		if p.matches(line, m.word, m.abbrev, abbrev) {
			return m.section
		}
	}
	return sectionNone
}

func (p Parser) matches(line, word, ab string, abbrev bool) bool {
	if !p.Strict {
		return strings.Contains(line, word) || (abbrev && strings.Contains(line, ab))
	}
	if line == word || strings.HasPrefix(line, word+":") {
		return true
	}
	return abbrev && strings.HasPrefix(line, ab)
}

// Parse returns the sections of content. ok is false when every section is
// empty, including when content has no headers at all.
func (p Parser) Parse(content string) (sections Sections, ok bool) {
	var (
		current section
		buf     []string
	)
	flush := func() {
		if current == sectionNone {
			return
		}
		text := strings.TrimSpace(strings.Join(buf, "\n"))
		switch current {
		case sectionSubjective:
			sections.Subjective = text
		case sectionObjective:
			sections.Objective = text
		case sectionAssessment:
			sections.Assessment = text
		case sectionPlan:
			sections.Plan = text
		}
	}

	for _, line := range strings.Split(content, "\n") {
		if next := p.header(strings.ToLower(strings.TrimSpace(line)), true); next != sectionNone {
			flush()
			current = next
			buf = buf[:0]
			continue
		}
		if current != sectionNone {
			buf = append(buf, line)
		}
	}
	flush()

	if sections.Empty() {
		return Sections{}, false
	}
	return sections, true
}

// IsValid reports whether content has at least one non-empty section.
func (p Parser) IsValid(content string) bool {
	_, ok := p.Parse(content)
	return ok
}

// ParseSOAP parses content with the default substring matching.
func ParseSOAP(content string) (Sections, bool) {
	return Parser{}.Parse(content)
}

func IsValidSOAP(content string) bool {
	return Parser{}.IsValid(content)
}
