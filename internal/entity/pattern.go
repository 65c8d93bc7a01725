package entity

import (
	"context"
	"regexp"
	"strings"
)

// Dictionary patterns for the space-biology corpus. Matching is done on
// the lowercased text, gene symbols aside, so the patterns stay lowercase.
var (
	organismPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b(?:mus musculus|mouse|mice)\b`),
		regexp.MustCompile(`\b(?:homo sapiens|human|humans)\b`),
		regexp.MustCompile(`\b(?:rattus norvegicus|rat|rats)\b`),
		regexp.MustCompile(`\b(?:drosophila|fruit fly|flies)\b`),
		regexp.MustCompile(`\b(?:caenorhabditis elegans|c\.?\s*elegans|nematode)\b`),
		regexp.MustCompile(`\b(?:arabidopsis|plant|plants)\b`),
		regexp.MustCompile(`\b(?:zebrafish|danio rerio)\b`),
		regexp.MustCompile(`\b(?:saccharomyces cerevisiae|yeast)\b`),
	}

	tissuePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b(?:bone|bones|skeletal)\b`),
		regexp.MustCompile(`\b(?:muscle|muscles|muscular)\b`),
		regexp.MustCompile(`\b(?:brain|neural|neuronal)\b`),
		regexp.MustCompile(`\b(?:heart|cardiac|cardiovascular)\b`),
		regexp.MustCompile(`\b(?:liver|hepatic)\b`),
		regexp.MustCompile(`\b(?:kidney|renal)\b`),
		regexp.MustCompile(`\b(?:lung|pulmonary|respiratory)\b`),
		regexp.MustCompile(`\b(?:skin|dermal|epidermal)\b`),
		regexp.MustCompile(`\b(?:blood|hematologic|immune)\b`),
		regexp.MustCompile(`\b(?:stem cell|stem-cell)\b`),
	}

	missionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b(?:iss|international space station)\b`),
		regexp.MustCompile(`\b(?:space shuttle|shuttle)\b`),
		regexp.MustCompile(`\b(?:apollo|gemini|mercury)\b`),
		regexp.MustCompile(`\b(?:mars|lunar|moon)\b`),
		regexp.MustCompile(`\b(?:spacex|dragon)\b`),
		regexp.MustCompile(`\b(?:soyuz|progress)\b`),
	}

	proteinPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b(?:osteocalcin|osteopontin)\b`),
		regexp.MustCompile(`\b(?:collagen|elastin)\b`),
		regexp.MustCompile(`\b(?:myosin|actin|myostatin)\b`),
		regexp.MustCompile(`\b(?:insulin|cortisol)\b`),
		regexp.MustCompile(`\b(?:hemoglobin|albumin)\b`),
		regexp.MustCompile(`\b(?:interleukin(?:-\d+)?|cytokine)\b`),
	}

	gravityPatterns = map[string][]*regexp.Regexp{
		"microgravity": {
			regexp.MustCompile(`\bmicrogravity\b`),
			regexp.MustCompile(`\bzero.?g\b`),
			regexp.MustCompile(`\bspace.?flight\b`),
			regexp.MustCompile(`\bweightless\b`),
			regexp.MustCompile(`\borbital\b`),
		},
		"partial_gravity": {
			regexp.MustCompile(`\bpartial.?gravity\b`),
			regexp.MustCompile(`\breduced.?gravity\b`),
			regexp.MustCompile(`\blunar.?gravity\b`),
			regexp.MustCompile(`\bmars.?gravity\b`),
		},
		"hypergravity": {
			regexp.MustCompile(`\bhypergravity\b`),
			regexp.MustCompile(`\bcentrifuge\b`),
			regexp.MustCompile(`\bincreased.?gravity\b`),
		},
	}

	studyTypePatterns = map[string][]*regexp.Regexp{
		"experimental": {
			regexp.MustCompile(`\bexperiment\b`),
			regexp.MustCompile(`\btrial\b`),
			regexp.MustCompile(`\btreatment\b`),
		},
		"observational": {
			regexp.MustCompile(`\bobservation\b`),
			regexp.MustCompile(`\bobserved\b`),
			regexp.MustCompile(`\bsurvey\b`),
		},
		"computational": {
			regexp.MustCompile(`\bmodel\b`),
			regexp.MustCompile(`\bsimulation\b`),
			regexp.MustCompile(`\bcomputational\b`),
		},
		"review": {
			regexp.MustCompile(`\breview\b`),
			regexp.MustCompile(`\bmeta.?analysis\b`),
			regexp.MustCompile(`\bsystematic\b`),
		},
	}

	// Gene symbols run against the original casing: 2-10 uppercase
	// letters with an optional trailing digit.
	genePattern = regexp.MustCompile(`\b[A-Z]{2,10}\d?\b`)
)

// nonGenes are common uppercase abbreviations the gene pattern would
// otherwise misclassify.
var nonGenes = map[string]struct{}{
	"DNA": {}, "RNA": {}, "PCR": {}, "RT": {},
	"PBS": {}, "NASA": {}, "ISS": {}, "USA": {},
}

// gravityOrder and studyTypeOrder fix iteration order so extraction is
// deterministic; the first matching condition wins.
var (
	gravityOrder   = []string{"microgravity", "partial_gravity", "hypergravity"}
	studyTypeOrder = []string{"experimental", "observational", "computational", "review"}
)

// PatternExtractor finds entities with the regex dictionaries. It has no
// dependencies and never degrades, so it doubles as the fallback when the
// model-backed extractor is unavailable.
type PatternExtractor struct{}

// NewPatternExtractor returns the dictionary extractor.
func NewPatternExtractor() *PatternExtractor {
	return &PatternExtractor{}
}

// Extract scans text against every dictionary. The context is unused but
// kept so PatternExtractor satisfies Extractor.
func (*PatternExtractor) Extract(_ context.Context, text string) []Entity {
	if text == "" {
		return nil
	}
	lower := strings.ToLower(text)

	var out []Entity
	out = appendMatches(out, TypeOrganism, organismPatterns, lower)
	out = appendMatches(out, TypeTissue, tissuePatterns, lower)
	out = appendMatches(out, TypeMission, missionPatterns, lower)
	out = appendMatches(out, TypeProtein, proteinPatterns, lower)

	for _, g := range genePattern.FindAllString(text, -1) {
		if _, skip := nonGenes[g]; skip {
			continue
		}
		out = append(out, Entity{Type: TypeGene, Value: g})
	}

	if cond := firstMatch(gravityOrder, gravityPatterns, lower); cond != "" {
		out = append(out, Entity{Type: TypeGravityCondition, Value: cond})
	}
	if st := firstMatch(studyTypeOrder, studyTypePatterns, lower); st != "" {
		out = append(out, Entity{Type: TypeStudyType, Value: st})
	}

	return merge(out, nil)
}

func appendMatches(out []Entity, t Type, patterns []*regexp.Regexp, lower string) []Entity {
	for _, p := range patterns {
		for _, m := range p.FindAllString(lower, -1) {
			out = append(out, Entity{Type: t, Value: m})
		}
	}
	return out
}

func firstMatch(order []string, patterns map[string][]*regexp.Regexp, lower string) string {
	for _, key := range order {
		for _, p := range patterns[key] {
			if p.MatchString(lower) {
				return key
			}
		}
	}
	return ""
}
