package safety

import "github.com/learnloop/tutor-core/internal/core/domain"

// Serious categories block at every grade; minor categories block only in
// strict bands. All matching is whole-word and case-insensitive.
var seriousTerms = map[domain.ModerationCategory][]string{
	domain.CategoryViolence: {"kill", "murder", "stab", "strangle", "torture", "massacre"},
	domain.CategoryAdult:    {"sex", "porn", "nude", "naked", "explicit"},
	domain.CategoryDrugs:    {"cocaine", "heroin", "meth", "marijuana", "vape", "overdose"},
	domain.CategorySelfHarm: {"suicide", "self-harm", "cutting myself", "kill myself", "hurt myself"},
	domain.CategoryWeapons:  {"gun", "bomb", "rifle", "pistol", "grenade", "explosive"},
}

var minorTerms = map[domain.ModerationCategory][]string{
	domain.CategoryProfanity: {"damn", "crap", "hell no", "pissed"},
	domain.CategoryBullying:  {"stupid", "idiot", "dumb", "loser", "shut up", "hate you", "ugly"},
}

type gradeBand struct {
	minGrade, maxGrade int
	// subjects is the topical whitelist for the off-topic check on young
	// grades. Empty means the check is skipped for the band.
	subjects     []string
	extraBlocked []string
	strictTerms  bool
}

var gradeBands = []gradeBand{
	{
		minGrade: 1, maxGrade: 3,
		subjects: []string{
			"math", "add", "subtract", "count", "number", "plus", "minus",
			"read", "write", "story", "letter", "word", "spell",
			"animal", "plant", "water", "sun", "color", "shape", "science",
			"school", "teacher", "family", "friend", "learn", "homework",
		},
		extraBlocked: []string{"scary", "monster", "nightmare", "ghost", "zombie"},
		strictTerms:  true,
	},
	{
		minGrade: 4, maxGrade: 6,
		subjects: []string{
			"math", "multiply", "divide", "fraction", "decimal", "number", "add", "subtract",
			"read", "write", "grammar", "sentence", "story", "essay", "spell",
			"science", "experiment", "energy", "planet", "electricity", "animal", "plant",
			"history", "geography", "map", "country",
			"school", "teacher", "learn", "homework", "question", "answer",
		},
		strictTerms: true,
	},
	{minGrade: 7, maxGrade: 9},
	{minGrade: 10, maxGrade: 12},
}

func bandForGrade(grade int) gradeBand {
	for _, b := range gradeBands {
		if grade >= b.minGrade && grade <= b.maxGrade {
			return b
		}
	}
	// Out-of-range grades fall back to the most permissive band.
	return gradeBands[len(gradeBands)-1]
}
