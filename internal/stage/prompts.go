package stage

import (
	"fmt"
	"strings"

	"github.com/artempl88/sozdaibota-sub000/internal/models"
)

const preamble = `Ты — консультант студии, которая разрабатывает Telegram-ботов для бизнеса.
Твоя задача — вежливо и по делу выяснить требования клиента к будущему боту.
Отвечай по-русски, коротко (3–6 предложений), задавай не больше двух вопросов за раз.
Не называй цены и сроки сам: расчёт готовит команда после согласования.`

// SystemPrompt returns the guided-intake system prompt for a stage
func SystemPrompt(s Stage, profile models.IntakeProfile) string {
	var guidance string
	switch s {
	case Integration:
		guidance = integrationGuidance()
	case Advanced:
		guidance = advancedGuidance()
	default:
		guidance = basicGuidance()
	}
	return compose(guidance, profile)
}

// DepthPrompt returns the free-flow system prompt for a depth bucket
func DepthPrompt(d Depth, profile models.IntakeProfile) string {
	var guidance string
	switch d {
	case Exploring:
		guidance = `Клиент уже рассказал о бизнесе. Уточни, какие задачи бот должен решать в первую очередь и кто его пользователи.`
	case Detailing:
		guidance = `Требования в целом понятны. Уточни детали: сценарии, данные, интеграции, кто будет управлять ботом.`
	case Closing:
		guidance = `Информации достаточно. Подведи краткий итог требований и предложи подготовить расчёт стоимости.`
	default:
		guidance = `Это начало разговора. Познакомься, узнай, чем занимается бизнес клиента и зачем ему бот.`
	}
	return compose(guidance, profile)
}

// PromptFor picks the prompt for a session's flow and history
func PromptFor(flow models.Flow, turns []models.Turn, profile models.IntakeProfile) string {
	if flow == models.FlowFree {
		return DepthPrompt(DepthOf(turns), profile)
	}
	return SystemPrompt(Classify(turns), profile)
}

func basicGuidance() string {
	return `Этап: базовая функциональность.
Выясни, что бот должен делать в первую очередь: каталог, приём заявок или заказов, запись, оплата, рассылки, ответы на частые вопросы.
Попроси привести пример типичного диалога пользователя с ботом.`
}

func integrationGuidance() string {
	return `Этап: интеграции.
Базовые функции уже обсуждались. Выясни, с какими системами бот должен обмениваться данными: CRM, 1С, платёжные системы, Google Таблицы, сайт, склад.
Уточни, кто и как будет получать заявки из бота.`
}

func advancedGuidance() string {
	return `Этап: расширенные возможности.
Уточни, нужны ли аналитика, персональные рекомендации, обработка голосовых сообщений или ответы на базе ИИ.
Если клиент считает требования полными, предложи подготовить расчёт стоимости.`
}

func compose(guidance string, p models.IntakeProfile) string {
	var b strings.Builder
	b.WriteString(preamble)
	b.WriteString("\n\n")
	b.WriteString(guidance)
	b.WriteString("\n\n")
	b.WriteString(profileSummary(p))
	return b.String()
}

func profileSummary(p models.IntakeProfile) string {
	lines := []string{"Анкета клиента:"}
	add := func(label, value string) {
		if strings.TrimSpace(value) != "" {
			lines = append(lines, fmt.Sprintf("- %s: %s", label, value))
		}
	}
	add("Имя", p.Name)
	add("Должность", p.Role)
	add("Сфера бизнеса", p.Industry)
	if p.Budget != "" {
		add("Бюджет", p.Budget.Label())
	}
	if p.Timeline != "" {
		add("Сроки", p.Timeline.Label())
	}
	return strings.Join(lines, "\n")
}
