package estimate

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/artempl88/sozdaibota-sub000/internal/models"
)

// ClientMessage is the approval message delivered to the client
func ClientMessage(est *models.Estimate) string {
	var b strings.Builder
	b.WriteString("✅ Расчёт стоимости согласован командой.\n\n")
	fmt.Fprintf(&b, "Проект: %s\n", est.ProjectName)
	fmt.Fprintf(&b, "Стоимость: %s\n", FormatMoney(est.TotalCost, est.Metadata.Currency))
	fmt.Fprintf(&b, "Трудоёмкость: %s ч\n", formatHours(est.TotalHours))
	if est.Timeline != "" {
		fmt.Fprintf(&b, "Сроки: %s\n", est.Timeline)
	}

	b.WriteString("\nСостав работ:\n")
	for _, c := range est.Components {
		fmt.Fprintf(&b, "• %s — %s ч\n", c.Name, formatHours(c.Hours))
	}

	if len(est.Recommendations) > 0 {
		b.WriteString("\nРекомендации:\n")
		for _, r := range est.Recommendations {
			fmt.Fprintf(&b, "• %s\n", r)
		}
	}

	b.WriteString("\nДальнейшие шаги: менеджер свяжется с вами удобным способом, чтобы обсудить детали и подготовить договор.")
	return b.String()
}

// FormatMoney renders an amount with thousands separators
func FormatMoney(amount float64, currency string) string {
	whole := strconv.FormatInt(int64(math.Round(amount)), 10)
	var groups []string
	for len(whole) > 3 {
		groups = append([]string{whole[len(whole)-3:]}, groups...)
		whole = whole[:len(whole)-3]
	}
	groups = append([]string{whole}, groups...)
	num := strings.Join(groups, " ")

	switch strings.ToUpper(currency) {
	case "", "RUB":
		return num + " ₽"
	default:
		return num + " " + currency
	}
}

func formatHours(h float64) string {
	if h == math.Trunc(h) {
		return strconv.FormatFloat(h, 'f', 0, 64)
	}
	return strconv.FormatFloat(h, 'f', 1, 64)
}
