package notify

import (
	"fmt"
	"strings"

	"github.com/artempl88/sozdaibota-sub000/internal/estimate"
	"github.com/artempl88/sozdaibota-sub000/internal/models"
)

const (
	// MaxMessageRunes bounds a reviewer message
	MaxMessageRunes = 4000
	maxTurnRunes    = 300
)

// ComposeReview renders a review within MaxMessageRunes. The conversation
// excerpt is cut first, oldest turns before newer ones.
func ComposeReview(r Review) string {
	head := reviewHeader(r)

	var excerpt []string
	for i := len(r.Turns) - 1; i >= 0; i-- {
		t := r.Turns[i]
		if t.Kind == models.KindSystem {
			continue
		}
		speaker := "Клиент"
		if t.Role == models.RoleAssistant {
			speaker = "Бот"
		}
		excerpt = append(excerpt, speaker+": "+truncateRunes(t.Content, maxTurnRunes))
	}

	const excerptTitle = "\n💬 Фрагмент переписки:\n"
	budget := MaxMessageRunes - runeLen(head) - runeLen(excerptTitle)

	var kept []string
	used := 0
	for _, line := range excerpt {
		cost := runeLen(line) + 1
		if used+cost > budget {
			break
		}
		kept = append(kept, line)
		used += cost
	}

	msg := head
	if len(kept) > 0 {
		for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
			kept[i], kept[j] = kept[j], kept[i]
		}
		msg += excerptTitle + strings.Join(kept, "\n")
	}
	return truncateRunes(msg, MaxMessageRunes)
}

func reviewHeader(r Review) string {
	var b strings.Builder
	est := r.Estimate
	p := r.Profile

	b.WriteString("🧾 Новый расчёт на согласование\n\n")
	fmt.Fprintf(&b, "Сессия: %s\n", r.SessionID)
	fmt.Fprintf(&b, "Клиент: %s", p.Name)
	if p.Role != "" {
		fmt.Fprintf(&b, " (%s)", p.Role)
	}
	b.WriteByte('\n')
	fmt.Fprintf(&b, "Сфера: %s\n", p.Industry)
	fmt.Fprintf(&b, "Бюджет: %s | Сроки: %s\n", p.Budget.Label(), p.Timeline.Label())
	channels := make([]string, len(p.ContactChannels))
	for i, c := range p.ContactChannels {
		channels[i] = string(c)
	}
	fmt.Fprintf(&b, "Связь: %s — %s\n", strings.Join(channels, ", "), p.ContactDetails)
	fmt.Fprintf(&b, "Оценка лида: %.1f/10\n\n", r.LeadScore)

	if est == nil {
		return b.String()
	}

	fmt.Fprintf(&b, "Смета %s (%s", est.ID, est.Metadata.GeneratedBy)
	if est.Metadata.Approximate {
		b.WriteString(", приблизительная")
	}
	b.WriteString(")\n")
	fmt.Fprintf(&b, "Итого: %s, %.0f ч\n", estimate.FormatMoney(est.TotalCost, est.Metadata.Currency), est.TotalHours)
	if est.Timeline != "" {
		fmt.Fprintf(&b, "Сроки: %s\n", est.Timeline)
	}
	for _, c := range est.Components {
		fmt.Fprintf(&b, "• %s — %.0f ч\n", truncateRunes(c.Name, 80), c.Hours)
	}
	return b.String()
}

func runeLen(s string) int {
	return len([]rune(s))
}

func truncateRunes(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	if limit <= 1 {
		return string(r[:limit])
	}
	return string(r[:limit-1]) + "…"
}
