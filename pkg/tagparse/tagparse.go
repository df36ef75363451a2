// Package tagparse extracts structured directives from model output. Model
// replies are free text carrying XML-style tags; everything outside a
// recognized tag is commentary and is ignored. Parsing is tolerant: a
// malformed block is skipped rather than failing the whole reply.
package tagparse

import (
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies which directive a block carries.
type Kind int

const (
	// KindToolCall is a <tool name="...">{json}</tool> block.
	KindToolCall Kind = iota
	// KindHypothesis is a <hypothesis>text</hypothesis> block.
	KindHypothesis
	// KindReport is a <report>{json}</report> block.
	KindReport
	// KindSolution is a <solution confidence="NN">text</solution> block.
	KindSolution
)

// String returns the tag name for the kind.
func (k Kind) String() string {
	switch k {
	case KindToolCall:
		return "tool"
	case KindHypothesis:
		return "hypothesis"
	case KindReport:
		return "report"
	case KindSolution:
		return "solution"
	default:
		return "unknown"
	}
}

// Block is one parsed directive, in document order.
type Block struct {
	Kind       Kind
	ToolName   string          // tool calls only
	Args       map[string]any  // tool calls only
	Text       string          // hypothesis and solution body
	Confidence int             // solutions only, 0-100
	RawJSON    json.RawMessage // report payload, verbatim
}

var (
	toolRegex       = regexp.MustCompile(`(?s)<tool\s+name="([^"]+)"\s*>(.*?)</tool>`)
	hypothesisRegex = regexp.MustCompile(`(?s)<hypothesis>(.*?)</hypothesis>`)
	reportRegex     = regexp.MustCompile(`(?s)<report>(.*?)</report>`)
	solutionRegex   = regexp.MustCompile(`(?s)<solution\s+confidence="(\d+)"\s*>(.*?)</solution>`)
)

type positioned struct {
	block Block
	pos   int
}

// Parse extracts every well-formed directive from text, in document order.
// Blocks that fail validation (bad JSON args, out-of-range confidence, empty
// bodies) are dropped; skipped reports how many were, so callers can log it.
func Parse(text string) (blocks []Block, skipped int) {
	var found []positioned

	for _, m := range toolRegex.FindAllStringSubmatchIndex(text, -1) {
		name := text[m[2]:m[3]]
		body := strings.TrimSpace(text[m[4]:m[5]])
		args := map[string]any{}
		if body != "" {
			if err := json.Unmarshal([]byte(body), &args); err != nil {
				skipped++
				continue
			}
		}
		found = append(found, positioned{
			block: Block{Kind: KindToolCall, ToolName: name, Args: args},
			pos:   m[0],
		})
	}

	for _, m := range hypothesisRegex.FindAllStringSubmatchIndex(text, -1) {
		body := strings.TrimSpace(text[m[2]:m[3]])
		if body == "" {
			skipped++
			continue
		}
		found = append(found, positioned{
			block: Block{Kind: KindHypothesis, Text: body},
			pos:   m[0],
		})
	}

	for _, m := range reportRegex.FindAllStringSubmatchIndex(text, -1) {
		body := strings.TrimSpace(text[m[2]:m[3]])
		if !json.Valid([]byte(body)) {
			skipped++
			continue
		}
		found = append(found, positioned{
			block: Block{Kind: KindReport, RawJSON: json.RawMessage(body)},
			pos:   m[0],
		})
	}

	for _, m := range solutionRegex.FindAllStringSubmatchIndex(text, -1) {
		confidence, err := strconv.Atoi(text[m[2]:m[3]])
		if err != nil || confidence < 0 || confidence > 100 {
			skipped++
			continue
		}
		body := strings.TrimSpace(text[m[4]:m[5]])
		if body == "" {
			skipped++
			continue
		}
		found = append(found, positioned{
			block: Block{Kind: KindSolution, Text: body, Confidence: confidence},
			pos:   m[0],
		})
	}

	sort.SliceStable(found, func(i, j int) bool { return found[i].pos < found[j].pos })

	blocks = make([]Block, 0, len(found))
	for i := range found {
		blocks = append(blocks, found[i].block)
	}
	return blocks, skipped
}

// ToolCalls filters blocks down to tool calls, preserving order.
func ToolCalls(blocks []Block) []Block {
	return filter(blocks, KindToolCall)
}

// Hypotheses filters blocks down to hypotheses, preserving order.
func Hypotheses(blocks []Block) []Block {
	return filter(blocks, KindHypothesis)
}

// FirstSolution returns the first solution block, if any.
func FirstSolution(blocks []Block) (Block, bool) {
	for i := range blocks {
		if blocks[i].Kind == KindSolution {
			return blocks[i], true
		}
	}
	return Block{}, false
}

// FirstReport returns the first report block, if any.
func FirstReport(blocks []Block) (Block, bool) {
	for i := range blocks {
		if blocks[i].Kind == KindReport {
			return blocks[i], true
		}
	}
	return Block{}, false
}

func filter(blocks []Block, kind Kind) []Block {
	var out []Block
	for i := range blocks {
		if blocks[i].Kind == kind {
			out = append(out, blocks[i])
		}
	}
	return out
}
