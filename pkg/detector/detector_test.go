package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var shared = New()

func TestIsEnglish(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{
			name: "english man page",
			text: "grep searches for patterns in each file. A pattern is one or more patterns separated by newline characters, and grep prints each line that matches a pattern.",
			want: true,
		},
		{
			name: "german man page",
			text: "grep durchsucht jede angegebene Datei nach Zeilen, die eine Übereinstimmung mit dem angegebenen Muster enthalten. Standardmäßig gibt grep die passenden Zeilen aus.",
			want: false,
		},
		{
			name: "french man page",
			text: "La commande affiche les lignes correspondant à un motif donné dans chaque fichier. Elle est souvent utilisée avec des expressions rationnelles étendues.",
			want: false,
		},
		{
			name: "short text counts as english",
			text: "Liste les fichiers.",
			want: true,
		},
		{
			name: "code only counts as english",
			text: "```\nls -la --color=auto\n```",
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, shared.IsEnglish(tt.text))
		})
	}
}

func TestDetectReportsLanguage(t *testing.T) {
	res := shared.Detect("Это руководство описывает, как использовать команду для поиска строк в файлах и каталогах системы.")
	assert.Equal(t, "Russian", res.Language)
	assert.Equal(t, "RU", res.ISOCode)
	assert.Less(t, res.English, 0.5)
}

func TestWithMinConfidence(t *testing.T) {
	strict := shared.WithMinConfidence(1.01)
	assert.False(t, strict.IsEnglish("grep searches for patterns in each file and prints each matching line to standard output."))
	assert.Equal(t, DefaultMinConfidence, shared.minConfidence)
}
