package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name     string
		template string
		row      map[string]string
		inputs   []string
		want     string
	}{
		{
			name:     "substitutes listed column",
			template: "Is {Food} ok?",
			row:      map[string]string{"Food": "rice"},
			inputs:   []string{"Food"},
			want:     "Is rice ok?",
		},
		{
			name:     "unlisted placeholder untouched",
			template: "Is {Food} ok?",
			row:      map[string]string{"Other": "x"},
			inputs:   []string{"Other"},
			want:     "Is {Food} ok?",
		},
		{
			name:     "listed column absent from row",
			template: "Is {Food} ok?",
			row:      map[string]string{},
			inputs:   []string{"Food"},
			want:     "Is {Food} ok?",
		},
		{
			name:     "every occurrence replaced",
			template: "{A} and {A} with {B}",
			row:      map[string]string{"A": "x", "B": "y"},
			inputs:   []string{"A", "B"},
			want:     "x and x with y",
		},
		{
			name:     "no placeholders",
			template: "plain",
			row:      map[string]string{"A": "x"},
			inputs:   []string{"A"},
			want:     "plain",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Render(tt.template, tt.row, tt.inputs))
		})
	}
}

func TestSystemPrompt(t *testing.T) {
	p := SystemPrompt([]string{"Food", "Origin"}, 25)

	assert.Contains(t, p, "25 rows and 2 columns: Food, Origin")
	assert.Contains(t, p, BestAnswerMarker)
	assert.Contains(t, p, ExplanationMarker)
}

func TestUserPrompt(t *testing.T) {
	row := map[string]string{"Food": "rice", "Origin": "Asia", "Zeta": "z"}

	p := UserPrompt(row, []string{"Origin", "Food"}, "Is rice ok?")

	assert.Equal(t, "Row:\n- Origin: Asia\n- Food: rice\n- Zeta: z\n\nQuestion: Is rice ok?", p)
}
