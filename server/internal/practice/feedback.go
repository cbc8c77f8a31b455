package practice

import (
	"fmt"
	"strings"
	"unicode"
)

// GoodUsage 没有发现问题时的固定反馈。
const GoodUsage = "Gute Sprachverwendung! Weiter so."

// IssueKind 语言问题类别。
type IssueKind string

const (
	IssueCapitalization IssueKind = "capitalization"
	IssueRegister       IssueKind = "register"
	IssueSentenceLength IssueKind = "sentence_length"
	IssuePunctuation    IssueKind = "punctuation"
	IssueFiller         IssueKind = "filler"
)

// Issue 单条语言反馈。
type Issue struct {
	Kind    IssueKind `json:"kind"`
	Message string    `json:"message"`
	Terms   []string  `json:"terms,omitempty"`
}

// 需要大写的专业名词（小写 → 正确写法）。
var defaultLexicon = []string{
	"Patient", "Patientin", "Patienten", "Schmerzen", "Schmerz", "Medikament", "Medikamente",
	"Tablette", "Tabletten", "Arzt", "Ärztin", "Blutdruck", "Puls", "Temperatur", "Fieber",
	"Zimmer", "Station", "Verband", "Wunde", "Infusion", "Übergabe", "Angehörige", "Angehörigen",
	"Termin", "Krankenhaus", "Bett", "Untersuchung", "Allergie", "Allergien", "Diagnose", "Dosis",
	"Insulin", "Sturz", "Notfall", "Atmung", "Rollstuhl", "Kollege", "Kollegin", "Schicht",
	"Frau", "Herr", "Hilfe", "Nacht",
}

var informalMarkers = []string{"du", "dich", "dir", "dein", "deine", "deinen", "deinem", "deiner", "deines"}

var fillerWords = []string{"äh", "ähm", "hm", "hmm", "halt", "irgendwie", "sozusagen", "quasi"}

// Analyzer 规则化的语言反馈（大写、称呼、句长、标点、口头禅）。
// 无状态，不影响检查点进度。
type Analyzer struct {
	lexicon          map[string]string
	informal         map[string]bool
	fillers          map[string]bool
	maxSentenceWords int
}

func NewAnalyzer() *Analyzer {
	a := &Analyzer{
		lexicon:          make(map[string]string, len(defaultLexicon)),
		informal:         make(map[string]bool, len(informalMarkers)),
		fillers:          make(map[string]bool, len(fillerWords)),
		maxSentenceWords: 25,
	}
	for _, w := range defaultLexicon {
		a.lexicon[strings.ToLower(w)] = w
	}
	for _, w := range informalMarkers {
		a.informal[w] = true
	}
	for _, w := range fillerWords {
		a.fillers[w] = true
	}
	return a
}

// Analyze 返回可读的反馈文本，多条问题用换行拼接。
func (a *Analyzer) Analyze(utterance string) string {
	issues := a.Inspect(utterance)
	if len(issues) == 0 {
		return GoodUsage
	}
	msgs := make([]string, len(issues))
	for i, issue := range issues {
		msgs[i] = issue.Message
	}
	return strings.Join(msgs, "\n")
}

// Inspect 按固定顺序执行全部检查。
func (a *Analyzer) Inspect(utterance string) []Issue {
	text := strings.TrimSpace(utterance)
	if text == "" {
		return nil
	}
	words := splitWords(text)

	var issues []Issue
	if issue, ok := a.checkCapitalization(words); ok {
		issues = append(issues, issue)
	}
	if issue, ok := a.checkRegister(words); ok {
		issues = append(issues, issue)
	}
	if issue, ok := a.checkSentenceLength(text); ok {
		issues = append(issues, issue)
	}
	if issue, ok := checkPunctuation(text); ok {
		issues = append(issues, issue)
	}
	if issue, ok := a.checkFillers(words); ok {
		issues = append(issues, issue)
	}
	return issues
}

func (a *Analyzer) checkCapitalization(words []string) (Issue, bool) {
	var fixes []string
	seen := make(map[string]bool)
	for _, w := range words {
		proper, ok := a.lexicon[strings.ToLower(w)]
		if !ok || seen[w] {
			continue
		}
		first := []rune(w)[0]
		if unicode.IsLower(first) {
			seen[w] = true
			fixes = append(fixes, fmt.Sprintf("%s → %s", w, proper))
		}
	}
	if len(fixes) == 0 {
		return Issue{}, false
	}
	return Issue{
		Kind:    IssueCapitalization,
		Message: "Nomen werden großgeschrieben: " + strings.Join(fixes, ", ") + ".",
		Terms:   fixes,
	}, true
}

func (a *Analyzer) checkRegister(words []string) (Issue, bool) {
	found := collect(words, a.informal)
	if len(found) == 0 {
		return Issue{}, false
	}
	return Issue{
		Kind:    IssueRegister,
		Message: "Informelle Anrede (" + strings.Join(found, ", ") + "): Verwenden Sie im Beruf die Höflichkeitsform „Sie“.",
		Terms:   found,
	}, true
}

func (a *Analyzer) checkSentenceLength(text string) (Issue, bool) {
	sentences := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
	var nonEmpty []string
	for _, s := range sentences {
		if strings.TrimSpace(s) != "" {
			nonEmpty = append(nonEmpty, s)
		}
	}
	if len(nonEmpty) != 1 {
		return Issue{}, false
	}
	if n := len(strings.Fields(nonEmpty[0])); n > a.maxSentenceWords {
		return Issue{
			Kind:    IssueSentenceLength,
			Message: fmt.Sprintf("Der Satz ist sehr lang (%d Wörter). Teilen Sie ihn in kürzere Sätze auf.", n),
		}, true
	}
	return Issue{}, false
}

// closingMarks 句末标点之后可能出现的引号与括号
const closingMarks = "\"'“”„«»‹›‘’)]} \t"

func checkPunctuation(text string) (Issue, bool) {
	runes := []rune(strings.TrimRight(text, closingMarks))
	if len(runes) > 0 {
		switch runes[len(runes)-1] {
		case '.', '!', '?', '…':
			return Issue{}, false
		}
	}
	return Issue{
		Kind:    IssuePunctuation,
		Message: "Am Satzende fehlt ein Satzzeichen (. ! ?).",
	}, true
}

func (a *Analyzer) checkFillers(words []string) (Issue, bool) {
	found := collect(words, a.fillers)
	if len(found) == 0 {
		return Issue{}, false
	}
	return Issue{
		Kind:    IssueFiller,
		Message: "Füllwörter vermeiden: " + strings.Join(found, ", ") + ".",
		Terms:   found,
	}, true
}

// splitWords 按非字母字符切分（保留原始大小写）。
func splitWords(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
}

// collect 返回命中集合的词（小写、去重、保持出现顺序）。
func collect(words []string, set map[string]bool) []string {
	var found []string
	seen := make(map[string]bool)
	for _, w := range words {
		lw := strings.ToLower(w)
		if set[lw] && !seen[lw] {
			seen[lw] = true
			found = append(found, lw)
		}
	}
	return found
}
