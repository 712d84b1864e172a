package models

import (
	"strings"
)

// BudgetBand is the client's declared budget range
type BudgetBand string

const (
	BudgetUnder50k  BudgetBand = "under_50k"
	Budget50to100k  BudgetBand = "50k_100k"
	Budget100to300k BudgetBand = "100k_300k"
	BudgetOver300k  BudgetBand = "over_300k"
	BudgetUndecided BudgetBand = "undecided"
)

var budgetLabels = map[BudgetBand]string{
	BudgetUnder50k:  "до 50 000₽",
	Budget50to100k:  "50 000–100 000₽",
	Budget100to300k: "100 000–300 000₽",
	BudgetOver300k:  "от 300 000₽",
	BudgetUndecided: "пока не определён",
}

// TimelineBand is the client's desired delivery window
type TimelineBand string

const (
	TimelineASAP     TimelineBand = "asap"
	TimelineMonth    TimelineBand = "within_month"
	TimelineQuarter  TimelineBand = "one_to_three_months"
	TimelineLong     TimelineBand = "over_three_months"
	TimelineFlexible TimelineBand = "flexible"
)

var timelineLabels = map[TimelineBand]string{
	TimelineASAP:     "как можно скорее",
	TimelineMonth:    "в течение месяца",
	TimelineQuarter:  "1–3 месяца",
	TimelineLong:     "более 3 месяцев",
	TimelineFlexible: "сроки гибкие",
}

// ContactChannel is a way the client agreed to be contacted
type ContactChannel string

const (
	ContactTelegram ContactChannel = "telegram"
	ContactWhatsApp ContactChannel = "whatsapp"
	ContactPhone    ContactChannel = "phone"
	ContactEmail    ContactChannel = "email"
)

var contactChannels = map[ContactChannel]bool{
	ContactTelegram: true,
	ContactWhatsApp: true,
	ContactPhone:    true,
	ContactEmail:    true,
}

// IntakeProfile is the structured form the client submits first
type IntakeProfile struct {
	Name            string           `json:"name"`
	Role            string           `json:"role"`
	Industry        string           `json:"industry"`
	Budget          BudgetBand       `json:"budget"`
	Timeline        TimelineBand     `json:"timeline"`
	ContactChannels []ContactChannel `json:"contact_channels"`
	ContactDetails  string           `json:"contact_details"`
}

// ParseBudgetBand accepts either the band code or its display label
func ParseBudgetBand(raw string) (BudgetBand, bool) {
	v := normalizeBand(raw)
	for band, label := range budgetLabels {
		if v == string(band) || v == normalizeBand(label) {
			return band, true
		}
	}
	return "", false
}

// ParseTimelineBand accepts either the band code or its display label
func ParseTimelineBand(raw string) (TimelineBand, bool) {
	v := normalizeBand(raw)
	for band, label := range timelineLabels {
		if v == string(band) || v == normalizeBand(label) {
			return band, true
		}
	}
	return "", false
}

// ParseContactChannel validates a contact channel code
func ParseContactChannel(raw string) (ContactChannel, bool) {
	c := ContactChannel(strings.ToLower(strings.TrimSpace(raw)))
	return c, contactChannels[c]
}

// Label returns the human-readable budget range
func (b BudgetBand) Label() string {
	if l, ok := budgetLabels[b]; ok {
		return l
	}
	return string(b)
}

// Label returns the human-readable timeline
func (t TimelineBand) Label() string {
	if l, ok := timelineLabels[t]; ok {
		return l
	}
	return string(t)
}

// Validate returns field-level problems keyed by field name; nil when valid
func (p IntakeProfile) Validate() map[string]string {
	problems := make(map[string]string)
	if strings.TrimSpace(p.Name) == "" {
		problems["name"] = "укажите имя"
	}
	if strings.TrimSpace(p.Industry) == "" {
		problems["industry"] = "укажите сферу бизнеса"
	}
	if _, ok := budgetLabels[p.Budget]; !ok {
		problems["budget"] = "выберите бюджет из списка"
	}
	if _, ok := timelineLabels[p.Timeline]; !ok {
		problems["timeline"] = "выберите сроки из списка"
	}
	if len(p.ContactChannels) == 0 {
		problems["contact_channels"] = "выберите хотя бы один способ связи"
	}
	for _, c := range p.ContactChannels {
		if !contactChannels[c] {
			problems["contact_channels"] = "неизвестный способ связи: " + string(c)
			break
		}
	}
	if strings.TrimSpace(p.ContactDetails) == "" {
		problems["contact_details"] = "укажите контакт для связи"
	}
	if len(problems) == 0 {
		return nil
	}
	return problems
}

func (p IntakeProfile) clone() IntakeProfile {
	c := p
	c.ContactChannels = append([]ContactChannel(nil), p.ContactChannels...)
	return c
}

func normalizeBand(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "", "\u00a0", "", "-", "–", "—", "–").Replace(s)
	return s
}
