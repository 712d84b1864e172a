// Package stage decides which phase of requirements gathering a
// conversation is in. Everything here is pure: the same history always
// yields the same answer.
package stage

import (
	"strings"
	"unicode"

	"github.com/artempl88/sozdaibota-sub000/internal/models"
)

// Stage is a phase of the guided intake
type Stage int

const (
	Basic Stage = iota
	Integration
	Advanced
)

func (s Stage) String() string {
	switch s {
	case Integration:
		return "integration"
	case Advanced:
		return "advanced"
	default:
		return "basic"
	}
}

// Depth is the conversation depth bucket of the free-form flow
type Depth int

const (
	Opening Depth = iota
	Exploring
	Detailing
	Closing
)

func (d Depth) String() string {
	switch d {
	case Exploring:
		return "exploring"
	case Detailing:
		return "detailing"
	case Closing:
		return "closing"
	default:
		return "opening"
	}
}

// advancedTurnThreshold forces the last stage on long conversations
const advancedTurnThreshold = 8

var (
	basicTerms = []string{
		"каталог", "меню", "товар", "услуг", "заказ", "корзин", "оплат", "заявк",
		"запис", "бронир", "расписан", "консультац", "рассылк", "уведомлен",
		"анкет", "опрос", "доставк", "прайс", "отзыв", "поддержк",
		"catalog", "menu", "order", "cart", "payment", "booking", "faq",
	}
	integrationTerms = []string{
		"crm", "amocrm", "битрикс", "bitrix", "1с", "1c", "api", "интеграц",
		"вебхук", "webhook", "google sheets", "гугл таблиц", "таблиц", "erp",
		"мойсклад", "iiko", "юкасс", "yookassa", "stripe", "синхрониз",
		"выгрузк", "импорт", "экспорт", "сайт",
	}
	advancedTerms = []string{
		"ии", "ai", "gpt", "chatgpt", "нейросет", "искусственн", "машинн",
		"распознаван", "голосов", "аналитик", "рекомендац", "персонализ",
		"ml", "llm", "openai",
	}
)

// Signals is what the classifier extracts from a history
type Signals struct {
	ClientTurns int
	Basic       bool
	Integration bool
	Advanced    bool
}

// Analyze counts client turns and detects keyword clusters in client text
func Analyze(turns []models.Turn) Signals {
	var b strings.Builder
	for _, t := range turns {
		if t.Role != models.RoleClient {
			continue
		}
		b.WriteString(t.Content)
		b.WriteByte('\n')
	}
	text := strings.ToLower(b.String())
	words := splitWords(text)

	return Signals{
		ClientTurns: models.CountClientTurns(turns),
		Basic:       matchesAny(text, words, basicTerms),
		Integration: matchesAny(text, words, integrationTerms),
		Advanced:    matchesAny(text, words, advancedTerms),
	}
}

// Classify returns the guided-intake stage for a history
func Classify(turns []models.Turn) Stage {
	return FromSignals(Analyze(turns))
}

// FromSignals applies the decision table; ties resolve to the earliest stage
func FromSignals(s Signals) Stage {
	switch {
	case s.ClientTurns >= advancedTurnThreshold:
		return Advanced
	case s.ClientTurns < 2 || !s.Basic:
		return Basic
	case !s.Integration:
		return Integration
	default:
		return Advanced
	}
}

// DepthOf buckets the number of client turns for the free-form flow
func DepthOf(turns []models.Turn) Depth {
	n := models.CountClientTurns(turns)
	switch {
	case n <= 2:
		return Opening
	case n <= 5:
		return Exploring
	case n <= 9:
		return Detailing
	default:
		return Closing
	}
}

func splitWords(text string) map[string]struct{} {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	words := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		words[f] = struct{}{}
	}
	return words
}

// matchesAny treats multi-word terms as phrases, short terms as whole
// words and longer terms as word stems.
func matchesAny(text string, words map[string]struct{}, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(term, " ") {
			if strings.Contains(text, term) {
				return true
			}
			continue
		}
		if _, ok := words[term]; ok {
			return true
		}
		if len([]rune(term)) < 4 {
			continue
		}
		for w := range words {
			if strings.HasPrefix(w, term) {
				return true
			}
		}
	}
	return false
}

// Mentions reports whether text mentions any of terms, using the same
// word and stem rules as the classifier
func Mentions(text string, terms ...string) bool {
	lower := strings.ToLower(text)
	return matchesAny(lower, splitWords(lower), terms)
}
