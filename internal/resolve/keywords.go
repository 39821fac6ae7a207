package resolve

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Keywords are the locale-mixed vocabularies used by ranking.
type Keywords struct {
	Chat   []string
	Search []string
	Submit []string
}

// DefaultKeywords returns English keywords plus common de, fr, es, it, pt,
// nl, ru, ja, zh, and ko synonyms.
func DefaultKeywords() Keywords {
	return Keywords{
		Chat: []string{
			"chat", "message", "prompt", "input", "reply", "comment", "compose", "ask", "write", "textbox",
			"nachricht", "mensaje", "messaggio", "mensagem", "bericht", "сообщение",
			"メッセージ", "消息", "메시지",
		},
		Search: []string{
			"search", "query", "find",
			"suche", "buscar", "recherche", "cerca", "pesquisar", "zoeken", "поиск",
			"検索", "搜索", "검색",
		},
		Submit: []string{
			"send", "submit", "confirm", "ok", "go", "post",
			"absenden", "senden", "bestätigen",
			"envoyer", "valider", "soumettre",
			"enviar", "confirmar",
			"invia", "conferma",
			"verzenden", "versturen",
			"отправить", "подтвердить",
			"送信", "確認",
			"发送", "提交", "确认",
			"전송", "보내기", "제출", "확인",
		},
	}
}

// minPrefixKeyword is the shortest Latin keyword allowed to match a token prefix.
const minPrefixKeyword = 4

type keywordSet struct {
	words       []string
	ideographic []string
}

func newKeywordSet(words []string) keywordSet {
	var set keywordSet
	for _, w := range words {
		folded := fold(strings.TrimSpace(w))
		if folded == "" {
			continue
		}
		if isIdeographic(folded) {
			set.ideographic = append(set.ideographic, folded)
			continue
		}
		set.words = append(set.words, folded)
	}
	return set
}

// match reports whether any keyword occurs in text. Ideographic keywords
// match by substring; other keywords match whole tokens, or token prefixes
// when long enough.
func (s keywordSet) match(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	if len(s.ideographic) > 0 {
		whole := fold(text)
		for _, kw := range s.ideographic {
			if strings.Contains(whole, kw) {
				return true
			}
		}
	}
	for _, token := range tokenize(text) {
		for _, kw := range s.words {
			if token == kw {
				return true
			}
			if utf8.RuneCountInString(kw) >= minPrefixKeyword && strings.HasPrefix(token, kw) {
				return true
			}
		}
	}
	return false
}

// fold lowercases text and strips combining marks.
func fold(s string) string {
	t := transform.Chain(cases.Fold(), norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return strings.ToLower(s)
	}
	return out
}

// tokenize splits on punctuation, whitespace, and camelCase boundaries, then
// folds each token.
func tokenize(s string) []string {
	var tokens []string
	var current []rune
	flush := func() {
		if len(current) > 0 {
			tokens = append(tokens, fold(string(current)))
			current = current[:0]
		}
	}

	var prev rune
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.Is(unicode.Mn, r) {
			flush()
			prev = 0
			continue
		}
		if unicode.IsUpper(r) && prev != 0 && (unicode.IsLower(prev) || unicode.IsDigit(prev)) {
			flush()
		}
		current = append(current, r)
		prev = r
	}
	flush()
	return tokens
}

func isIdeographic(s string) bool {
	for _, r := range s {
		if unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul) {
			return true
		}
	}
	return false
}
