// Package sentiment scores free text with the VADER valence lexicon.
package sentiment

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/jonreiter/govader"
)

// Result is the scorer output. Tokens holds every token, scored or not.
type Result struct {
	Score       float64
	Comparative float64
	Tokens      []string
}

type Scorer interface {
	Analyze(ctx context.Context, text string) (Result, error)
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(ctx context.Context, text string) (Result, error)

func (f ScorerFunc) Analyze(ctx context.Context, text string) (Result, error) {
	return f(ctx, text)
}

var stripper = strings.NewReplacer(
	".", "", ",", "", "/", "", "#", "", "!", "", "?", "", "$", "", "%", "",
	"^", "", "&", "", "*", "", ";", "", ":", "", "{", "", "}", "", "=", "",
	"_", "", "`", "", `"`, "", "~", "", "(", "", ")", "",
)

// Vader wraps a govader analyzer. Score is the normalised compound valence
// in [-1, 1]; Comparative spreads it over the token count.
type Vader struct {
	analyzer *govader.SentimentIntensityAnalyzer
}

// NewVader loads the VADER lexicon and, when path is set, overlays the
// entries from that file. The analyzer is read-only afterwards and safe for
// concurrent use.
func NewVader(path string) (*Vader, error) {
	analyzer := govader.NewSentimentIntensityAnalyzer()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open lexicon %s: %w", path, err)
		}
		defer f.Close()
		extra, err := parseLexicon(f)
		if err != nil {
			return nil, fmt.Errorf("parse lexicon %s: %w", path, err)
		}
		for word, v := range extra {
			analyzer.Lexicon[word] = v
		}
	}
	return &Vader{analyzer: analyzer}, nil
}

func (v *Vader) Analyze(_ context.Context, text string) (Result, error) {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return Result{Tokens: tokens}, nil
	}
	polarity := v.analyzer.PolarityScores(text)
	return Result{
		Score:       polarity.Compound,
		Comparative: polarity.Compound / float64(len(tokens)),
		Tokens:      tokens,
	}, nil
}

// Tokenize lowercases, drops punctuation and splits on whitespace.
func Tokenize(text string) []string {
	cleaned := stripper.Replace(strings.ToLower(text))
	tokens := strings.Fields(cleaned)
	if tokens == nil {
		return []string{}
	}
	return tokens
}

// parseLexicon reads "word<TAB>valence" lines on the VADER -4..4 scale.
// Blank lines and # comments are skipped.
func parseLexicon(r io.Reader) (map[string]float64, error) {
	lex := make(map[string]float64)
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 2 {
			return nil, fmt.Errorf("line %d: expected word and valence", line)
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		lex[strings.ToLower(fields[0])] = v
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lex, nil
}
