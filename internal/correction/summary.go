package correction

import (
	"fmt"
	"strings"

	"github.com/ashureev/dex/internal/domain"
)

// Summary markup delimiters.
const (
	SummaryStart = "[MistakesStart]"
	SummaryEnd   = "[MistakesEnd]"
)

// RenderSummary renders mistakes as concatenated summary blocks, numbered from 1:
//
//	[MistakesStart]Mistake - 1. | Your Input - ... | Correct Response - ... | Mistake Type - ... | Explanation - ... | [MistakesEnd]
func RenderSummary(mistakes []domain.Mistake) string {
	var b strings.Builder
	for i, m := range mistakes {
		fmt.Fprintf(&b, "%sMistake - %d. | Your Input - %s | Correct Response - %s | Mistake Type - %s | Explanation - %s | %s",
			SummaryStart, i+1, m.UserInputSnippet, m.Correction, m.MistakeType, m.Explanation, SummaryEnd)
	}
	return b.String()
}
