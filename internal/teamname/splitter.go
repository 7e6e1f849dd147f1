// Package teamname decides whether a team field containing whitespace denotes
// one team or several, using only the string's own patterns plus the other
// team names seen in the same dataset.
package teamname

import (
	"fmt"
	"strings"

	"github.com/provtools/userbot/internal/dataset"
)

// Confidence grades how sure the analysis is about its verdict.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Analysis is the verdict for one raw team string containing whitespace.
// Ambiguous implies at least two Candidates.
type Analysis struct {
	RawName    string     `json:"raw_name"`
	Ambiguous  bool       `json:"is_ambiguous"`
	Candidates []string   `json:"split_candidates,omitempty"`
	Confidence Confidence `json:"confidence"`
	Reason     string     `json:"reason"`
}

// Hyphen-joined qualifier tokens that mark a compound word rather than a team
// boundary, e.g. "Non-IronOre" in "M&E-Surface Non-IronOre".
var compoundQualifiers = map[string]bool{
	"non": true,
	"co":  true,
	"ex":  true,
	"sub": true,
}

// Result is the outcome of a dataset-wide analysis pass.
type Result struct {
	Analyses   []Analysis
	SplitCount int
}

// Analyze inspects a single raw team name. It never fails: unparseable or
// empty input yields not-ambiguous with low confidence, which callers treat as
// "do not split, flag for human review".
func Analyze(raw string, others []string) Analysis {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Analysis{
			RawName:    raw,
			Confidence: ConfidenceLow,
			Reason:     "empty team name",
		}
	}

	tokens := strings.Fields(trimmed)
	if len(tokens) == 1 {
		return Analysis{
			RawName:    raw,
			Confidence: ConfidenceHigh,
			Reason:     "single token",
		}
	}

	if hasCompoundQualifier(tokens) {
		return Analysis{
			RawName:    raw,
			Confidence: ConfidenceHigh,
			Reason:     "compound qualifier detected",
		}
	}

	// Too many tokens to enumerate groupings; fall back to the plain split.
	if len(tokens) > 10 {
		return Analysis{
			RawName:    raw,
			Ambiguous:  true,
			Candidates: tokens,
			Confidence: ConfidenceMedium,
			Reason:     fmt.Sprintf("whitespace split into %d candidates", len(tokens)),
		}
	}

	known := make(map[string]bool, len(others))
	for _, name := range others {
		name = strings.TrimSpace(name)
		if name != "" && name != trimmed {
			known[name] = true
		}
	}

	candidates, corroborated := bestGrouping(tokens, known)

	confidence := ConfidenceMedium
	reason := fmt.Sprintf("whitespace split into %d candidates; %d corroborated by dataset",
		len(candidates), corroborated)
	if corroborated == len(candidates) {
		confidence = ConfidenceHigh
		reason = fmt.Sprintf("whitespace split into %d candidates, all corroborated by dataset",
			len(candidates))
	}

	return Analysis{
		RawName:    raw,
		Ambiguous:  true,
		Candidates: candidates,
		Confidence: confidence,
		Reason:     reason,
	}
}

// hasCompoundQualifier reports whether any whitespace-delimited token is a
// hyphen-joined qualifier from the allow-list, which marks the whitespace as
// internal to a compound name rather than a team boundary.
func hasCompoundQualifier(tokens []string) bool {
	for _, tok := range tokens {
		prefix, rest, found := strings.Cut(tok, "-")
		if found && rest != "" && compoundQualifiers[strings.ToLower(prefix)] {
			return true
		}
	}
	return false
}

// bestGrouping enumerates every contiguous grouping of the tokens into two or
// more candidates and scores each by how many candidates independently match
// another raw team name in the dataset (directly, or rejoined with a hyphen).
// Ties prefer fewer candidates, the conservative default.
func bestGrouping(tokens []string, known map[string]bool) (candidates []string, corroborated int) {
	n := len(tokens)
	var best []string
	bestScore := -1

	// Each bitmask places a boundary after token i when bit i is set.
	for mask := 0; mask < 1<<(n-1); mask++ {
		groups := groupsForMask(tokens, mask)
		if len(groups) < 2 {
			continue
		}

		texts := make([]string, 0, len(groups))
		score := 0
		for _, g := range groups {
			text, ok := groupText(g, known)
			texts = append(texts, text)
			if ok {
				score++
			}
		}

		if score > bestScore || (score == bestScore && len(texts) < len(best)) {
			best = texts
			bestScore = score
		}
	}

	return best, bestScore
}

func groupsForMask(tokens []string, mask int) [][]string {
	var groups [][]string
	start := 0
	for i := 0; i < len(tokens)-1; i++ {
		if mask&(1<<i) != 0 {
			groups = append(groups, tokens[start:i+1])
			start = i + 1
		}
	}
	groups = append(groups, tokens[start:])
	return groups
}

// groupText renders a token group as a candidate team name. Multi-token groups
// prefer the dataset's hyphenation pattern when it matches a known name.
func groupText(group []string, known map[string]bool) (string, bool) {
	if len(group) == 1 {
		return group[0], known[group[0]]
	}
	hyphenated := strings.Join(group, "-")
	if known[hyphenated] {
		return hyphenated, true
	}
	spaced := strings.Join(group, " ")
	return spaced, known[spaced]
}

// AnalyzeDataset runs Analyze over every distinct raw team string containing
// whitespace, with the rest of the dataset's team names as context.
func AnalyzeDataset(records []dataset.UserRecord) Result {
	var order []string
	distinct := make(map[string]bool)
	for _, rec := range records {
		for _, team := range rec.Teams {
			if !distinct[team] {
				distinct[team] = true
				order = append(order, team)
			}
		}
	}

	var result Result
	for _, team := range order {
		if len(strings.Fields(team)) < 2 {
			continue
		}
		others := make([]string, 0, len(order)-1)
		for _, other := range order {
			if other != team {
				others = append(others, other)
			}
		}
		analysis := Analyze(team, others)
		result.Analyses = append(result.Analyses, analysis)
		if analysis.Ambiguous {
			result.SplitCount++
		}
	}
	return result
}

// ApplySplitting replaces every team entry matching an ambiguous analysis with
// its split candidates, flattened in order and de-duplicated. Non-ambiguous
// entries are untouched. Pure: returns new records, never mutates input.
func ApplySplitting(records []dataset.UserRecord, analyses []Analysis) []dataset.UserRecord {
	splits := make(map[string][]string)
	for _, a := range analyses {
		if a.Ambiguous && len(a.Candidates) >= 2 {
			splits[a.RawName] = a.Candidates
		}
	}

	out := make([]dataset.UserRecord, 0, len(records))
	for _, rec := range records {
		var teams []string
		seen := make(map[string]bool)
		for _, team := range rec.Teams {
			replacement, ok := splits[team]
			if !ok {
				replacement = []string{team}
			}
			for _, t := range replacement {
				if !seen[t] {
					seen[t] = true
					teams = append(teams, t)
				}
			}
		}
		out = append(out, rec.WithTeams(teams))
	}
	return out
}
