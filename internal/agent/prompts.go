package agent

import (
	_ "embed"
	"regexp"
	"strings"
)

var (
	//go:embed prompts/chat.md
	chatPromptTemplate string
	//go:embed prompts/spec-structure.md
	specStructure string
	//go:embed prompts/codegen.md
	codegenPrompt string
	//go:embed prompts/reconcile.md
	reconcileInstruction string
	//go:embed prompts/fix.md
	fixInstructionTemplate string
)

func ChatSystemPrompt() string {
	return strings.ReplaceAll(chatPromptTemplate, "{{SPEC_STRUCTURE}}", DemoteHeadings(specStructure))
}

func CodeGeneratorSystemPrompt() string { return codegenPrompt }

func fixInstruction(report string) string {
	return strings.ReplaceAll(fixInstructionTemplate, "{{REPORT}}", report)
}

var headingRe = regexp.MustCompile(`^#+\s`)

// DemoteHeadings adds one level to every standalone markdown heading, i.e.
// a heading line with a blank line (or the document edge) on both sides.
func DemoteHeadings(md string) string {
	lines := strings.Split(md, "\n")
	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = line
		if !headingRe.MatchString(line) {
			continue
		}
		start := i == 0 || strings.TrimSpace(lines[i-1]) == ""
		end := i == len(lines)-1 || strings.TrimSpace(lines[i+1]) == ""
		if start && end {
			out[i] = "#" + line
		}
	}
	return strings.Join(out, "\n")
}
