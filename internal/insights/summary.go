package insights

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const noDataSummary = "Not enough processed comments to generate insights."

func summaryText(predominant string, avg *float64, total int, topPhrases []PhraseCount, positive, negative []string) string {
	if avg == nil {
		return noDataSummary
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Overall sentiment is %s (avg score %s) across %d comments.",
		predominant, formatScore(*avg), total)

	if len(topPhrases) > 0 {
		n := min(3, len(topPhrases))
		themes := make([]string, n)
		for i := 0; i < n; i++ {
			themes[i] = topPhrases[i].Phrase
		}
		fmt.Fprintf(&b, " Common themes include %s.", strings.Join(themes, ", "))
	}
	if len(positive) > 0 {
		fmt.Fprintf(&b, " Positive highlights: %s.", strings.Join(positive, "; "))
	}
	if len(negative) > 0 {
		fmt.Fprintf(&b, " Negative highlights: %s.", strings.Join(negative, "; "))
	}
	return b.String()
}

// formatScore rounds half up to two decimals and prints the shortest form,
// so 0.2666 is "0.27" and 1.0 is "1".
func formatScore(v float64) string {
	r := math.Floor(v*100+0.5) / 100
	if r == 0 {
		r = 0 // drop negative zero
	}
	return strconv.FormatFloat(r, 'f', -1, 64)
}
