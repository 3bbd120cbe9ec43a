package search

// Language selects a stop-word set for tokenization. The set of supported
// languages is closed; Valid rejects anything else and English is the
// fallback when no language is given.
type Language string

const (
	LangEnglish Language = "en"
	LangSpanish Language = "es"
	LangFrench  Language = "fr"
	LangGerman  Language = "de"
)

// Languages lists every supported language code.
var Languages = []Language{LangEnglish, LangSpanish, LangFrench, LangGerman}

// Valid reports whether l is a supported language code.
func (l Language) Valid() bool {
	_, ok := stopwords[l]
	return ok
}

func stopwordSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// Closed stop-word sets. Tokens of length <= 2 are dropped before the
// stop-word pass, so two-letter function words never reach these lists.
var stopwords = map[Language]map[string]struct{}{
	LangEnglish: stopwordSet(
		"the", "and", "for", "are", "but", "not", "you", "all", "can",
		"had", "her", "was", "one", "our", "out", "has", "have", "been",
		"this", "that", "with", "they", "them", "from", "will", "would",
		"there", "their", "what", "which", "when", "where", "who", "how",
	),
	LangSpanish: stopwordSet(
		"que", "los", "las", "del", "por", "con", "una", "para", "como",
		"pero", "sus", "este", "esta", "son", "entre", "cuando", "muy",
		"sobre", "también", "hasta", "hay", "donde", "quien", "desde",
		"todo", "nos", "durante", "todos", "uno", "les", "más",
	),
	LangFrench: stopwordSet(
		"les", "des", "est", "une", "dans", "qui", "que", "pour", "sur",
		"pas", "par", "avec", "son", "ses", "aux", "ont", "mais", "comme",
		"tout", "nous", "vous", "ils", "elle", "cette", "leur", "sont",
		"plus", "dont", "été", "être",
	),
	LangGerman: stopwordSet(
		"der", "die", "das", "und", "ist", "von", "den", "des", "mit",
		"ein", "eine", "auf", "für", "nicht", "auch", "sich", "dem",
		"war", "aber", "aus", "bei", "nach", "als", "wie", "noch", "wird",
		"sind", "einem", "einen", "einer",
	),
}

// stopwordsFor resolves a language to its stop-word set, falling back to
// English for the zero value.
func stopwordsFor(lang Language) map[string]struct{} {
	if set, ok := stopwords[lang]; ok {
		return set
	}
	return stopwords[LangEnglish]
}
