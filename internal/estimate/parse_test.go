package estimate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEstimate(t *testing.T) {
	est, err := ParseEstimate(reasonedJSON)
	require.NoError(t, err)
	require.Len(t, est.Components, 3)
	assert.Equal(t, 10.0, est.Components[1].Hours)
	assert.Equal(t, "e-commerce", est.Industry)
}

func TestParseEstimate_Failures(t *testing.T) {
	cases := map[string]string{
		"plain text":       "не могу посчитать",
		"empty":            "",
		"broken json":      `{"components": [`,
		"no components":    `{"project_name": "x", "components": []}`,
		"nameless":         `{"components": [{"name": " ", "hours": 3}]}`,
		"zero hours":       `{"components": [{"name": "a", "hours": 0}]}`,
		"non-numeric hour": `{"components": [{"name": "a", "hours": "много"}]}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseEstimate(raw)
			assert.ErrorIs(t, err, ErrParseFailure)
		})
	}
}

func TestCleanJSONContent(t *testing.T) {
	assert.Equal(t, `{"a":1}`, cleanJSONContent("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, cleanJSONContent("Here is the JSON: {\"a\":1} hope it helps"))
	assert.Equal(t, "", cleanJSONContent("no json"))
}

func TestParseEstimate_DefaultsTimeline(t *testing.T) {
	est, err := ParseEstimate(`{"components": [{"name": "a", "hours": "30ч"}]}`)
	require.NoError(t, err)
	assert.Equal(t, 30.0, est.Components[0].Hours)
	assert.Equal(t, "ориентировочно 2–3 нед.", est.Timeline)
	assert.Equal(t, "Telegram-бот", est.ProjectName)
}
