package estimate

import (
	"fmt"
	"strings"

	"github.com/artempl88/sozdaibota-sub000/internal/models"
)

func estimationPrompt(c *Catalog) string {
	return `Ты — технический руководитель студии разработки Telegram-ботов. Составь смету по переписке с клиентом.

Порядок работы:
1. Определи сферу бизнеса клиента.
2. Перечисли все функции, о которых клиент просил явно или косвенно.
3. Добавь технические компоненты, без которых бот не заработает, даже если клиент о них не говорил.
4. Оцени каждую функцию в часах по шкале сложности:
   - low: 2–6 ч (простые экраны, тексты, кнопки);
   - medium: 8–16 ч (каталоги, формы, запись, отчёты);
   - high: 16–40 ч (оплата, интеграции с внешними системами, ИИ).
5. Примени коэффициенты риска для регулируемых отраслей:
` + c.describeRisks() + `
6. Обязательно включи базовые компоненты (часы можно скорректировать):
` + c.describeBaseline() + `
Ответь только JSON-объектом без пояснений и без markdown:
{
  "project_name": "краткое название проекта",
  "industry": "сфера бизнеса",
  "components": [
    {"name": "...", "description": "...", "hours": 8, "category": "core|feature|integration|admin|ops|ai", "complexity": "low|medium|high"}
  ],
  "timeline": "срок разработки словами, например: 4–5 недель",
  "risks": ["..."],
  "recommendations": ["..."]
}
Стоимость не считай: её рассчитают по часам.`
}

func requirementsMessage(p models.IntakeProfile, transcript []string) string {
	var b strings.Builder
	b.WriteString("Анкета клиента:\n")
	fmt.Fprintf(&b, "- Сфера бизнеса: %s\n", p.Industry)
	if p.Role != "" {
		fmt.Fprintf(&b, "- Должность: %s\n", p.Role)
	}
	if p.Budget != "" {
		fmt.Fprintf(&b, "- Бюджет: %s\n", p.Budget.Label())
	}
	if p.Timeline != "" {
		fmt.Fprintf(&b, "- Сроки: %s\n", p.Timeline.Label())
	}
	b.WriteString("\nПереписка:\n")
	if len(transcript) == 0 {
		b.WriteString("(пусто)\n")
	}
	for _, line := range transcript {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}
