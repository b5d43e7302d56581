package safety

import "regexp"

// Pre-compiled jailbreak patterns, checked in order after homoglyph
// normalization. The first match is decisive: Malicious at 0.95 with no
// further layers run.
var maliciousInjectionPatterns = []struct {
	re   *regexp.Regexp
	name string
}{
	// Instruction override
	{regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above|earlier)\s+(instructions|prompts|rules|messages)`), "instruction_override"},
	{regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior|above)\s+(instructions|rules|guidelines)`), "instruction_override"},
	{regexp.MustCompile(`(?i)forget\s+(all\s+)?(previous|prior|above|your)\s+(instructions|rules|context)`), "instruction_override"},
	{regexp.MustCompile(`(?i)do\s+not\s+follow\s+(your|the|any)\s+(rules|guidelines|instructions|safety)`), "instruction_override"},
	{regexp.MustCompile(`(?i)override\s+(system|safety|security)\s+(prompt|instructions|rules|policy)`), "instruction_override"},

	// Role manipulation
	{regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|in|the)\b`), "role_manipulation"},
	{regexp.MustCompile(`(?i)from\s+now\s+on\s+you\s+(are|will|must|should)`), "role_manipulation"},
	{regexp.MustCompile(`(?i)your\s+new\s+(role|identity|persona|instructions)\s+(is|are)`), "role_manipulation"},
	{regexp.MustCompile(`(?i)pretend\s+(to\s+be|you\s+are)\s+(an?\s+)?(evil|unfiltered|unrestricted|uncensored|different)`), "role_manipulation"},
	{regexp.MustCompile(`(?i)\bDAN\b.*\bdo\s+anything\s+now\b`), "role_manipulation"},
	{regexp.MustCompile(`(?i)(developer|debug|god|sudo)\s+mode\s+(enabled|activated|on)`), "role_manipulation"},
	{regexp.MustCompile(`(?i)you\s+have\s+no\s+(restrictions|rules|limitations|guidelines|filters)`), "role_manipulation"},

	// Prompt extraction
	{regexp.MustCompile(`(?i)(reveal|show|output|print|tell\s+me)\s+(your|the)\s+(system|initial|original|hidden)\s+(prompt|instructions|message)`), "prompt_extraction"},
	{regexp.MustCompile(`(?i)what\s+(are|is|were)\s+your\s+(system|initial|original|hidden)\s+(prompt|instructions|rules)`), "prompt_extraction"},
	{regexp.MustCompile(`(?i)repeat\s+(everything|the\s+text)\s+above`), "prompt_extraction"},

	// Special-token injection
	{regexp.MustCompile(`(?i)\[SYSTEM\]`), "special_token"},
	{regexp.MustCompile(`<\|im_start\|>|<\|im_end\|>|<\|endoftext\|>`), "special_token"},
	{regexp.MustCompile(`(?i)###\s*(SYSTEM|INSTRUCTION|NEW\s+INSTRUCTION)`), "special_token"},
	{regexp.MustCompile(`(?i)BEGININSTRUCTION|ENDINSTRUCTION`), "special_token"},

	// Encoding bypass markers
	{regexp.MustCompile(`(?i)(respond|answer|reply)\s+(only\s+)?in\s+(base64|hex|rot13|binary|morse)`), "encoding_bypass"},
	{regexp.MustCompile(`(?i)decode\s+(this|the\s+following)\s+(base64|hex|rot13)`), "encoding_bypass"},

	// Harmful-content requests
	{regexp.MustCompile(`(?i)(how\s+to\s+)?(make|build|create)\s+(a\s+)?(bomb|explosive|weapon)\b`), "harmful_request"},
	{regexp.MustCompile(`(?i)without\s+(any\s+)?(ethical|moral|safety)\s+(guidelines|restrictions|constraints)`), "harmful_request"},
}

// Suspicious framings are tracked as warnings and never block on their own.
var suspiciousInjectionPatterns = []struct {
	re   *regexp.Regexp
	name string
}{
	{regexp.MustCompile(`(?i)in\s+a\s+(hypothetical|fictional)\s+(world|scenario|universe)`), "hypothetical_framing"},
	{regexp.MustCompile(`(?i)for\s+(educational|research|academic)\s+purposes\s+only`), "research_framing"},
	{regexp.MustCompile(`(?i)(my\s+(teacher|grandma|boss)\s+(said|told\s+me)|i\s+am\s+(the\s+)?(admin|administrator|developer))`), "social_engineering"},
	{regexp.MustCompile(`(?i)this\s+is\s+(just\s+)?a\s+(test|game|joke)`), "social_engineering"},
}

// homoglyphReplacer maps common unicode lookalikes used to slip past
// pattern matching back to their ASCII forms before any pattern runs.
var homoglyphs = map[rune]rune{
	// Cyrillic lookalikes
	'а': 'a', 'е': 'e', 'о': 'o', 'с': 'c', 'р': 'p', 'х': 'x', 'у': 'y', 'і': 'i', 'ѕ': 's', 'ԁ': 'd', 'ɡ': 'g',
	'А': 'A', 'В': 'B', 'Е': 'E', 'К': 'K', 'М': 'M', 'Н': 'H', 'О': 'O', 'Р': 'P', 'С': 'C', 'Т': 'T', 'Х': 'X',
	// Full-width digits and letters
	'０': '0', '１': '1', '２': '2', '３': '3', '４': '4', '５': '5', '６': '6', '７': '7', '８': '8', '９': '9',
}

func normalizeHomoglyphs(s string) string {
	needsWork := false
	for _, r := range s {
		if _, ok := homoglyphs[r]; ok || (r >= 'ａ' && r <= 'ｚ') || (r >= 'Ａ' && r <= 'Ｚ') {
			needsWork = true
			break
		}
	}
	if !needsWork {
		return s
	}

	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case homoglyphs[r] != 0:
			out = append(out, homoglyphs[r])
		case r >= 'ａ' && r <= 'ｚ':
			out = append(out, r-'ａ'+'a')
		case r >= 'Ａ' && r <= 'Ｚ':
			out = append(out, r-'Ａ'+'A')
		default:
			out = append(out, r)
		}
	}
	return string(out)
}
