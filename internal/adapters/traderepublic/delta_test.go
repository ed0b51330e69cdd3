package traderepublic

import (
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDelta(t *testing.T) {
	tests := []struct {
		name     string
		previous string
		script   string
		want     string
	}{
		{
			name:     "copy everything",
			previous: `{"price":100}`,
			script:   "=13",
			want:     `{"price":100}`,
		},
		{
			name:     "replace middle",
			previous: `{"price":100}`,
			script:   "=9\t-3\t+200\t=1",
			want:     `{"price":200}`,
		},
		{
			name:     "skip then copy",
			previous: "abcdef",
			script:   "-3\t=3",
			want:     "def",
		},
		{
			name:     "insert only",
			previous: "",
			script:   "+hello",
			want:     "hello",
		},
		{
			name:     "percent encoded literal",
			previous: "",
			script:   "+%7B%22a%22%3A1%7D",
			want:     `{"a":1}`,
		},
		{
			name:     "plus decodes to space and trims",
			previous: "",
			script:   "+foo+bar++",
			want:     "foo bar",
		},
		{
			name:     "copy tail after insert",
			previous: "0123456789",
			script:   "+X\t=5\t-5",
			want:     "X01234",
		},
		{
			// Los offsets cuentan caracteres: 25 caracteres copian el
			// payload entero aunque ocupe más bytes en UTF-8.
			name:     "full copy with non-ascii name",
			previous: `{"name":"Münchener Rück"}`,
			script:   "=25",
			want:     `{"name":"Münchener Rück"}`,
		},
		{
			name:     "skip and insert over multibyte runes",
			previous: "ü€日本",
			script:   "=2\t-2\t+ok",
			want:     "ü€ok",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := applyDelta(tt.previous, tt.script)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApplyDelta_Errors(t *testing.T) {
	tests := []struct {
		name     string
		previous string
		script   string
	}{
		{"empty operation", "abc", "=1\t\t=1"},
		{"unknown operation", "abc", "*3"},
		{"copy past end", "abc", "=4"},
		{"skip past end", "abc", "=2\t-2"},
		{"non numeric length", "abc", "=x"},
		{"bad escape", "", "+%zz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := applyDelta(tt.previous, tt.script)
			require.Error(t, err)
			var decodeErr *DecodeError
			assert.ErrorAs(t, err, &decodeErr)
		})
	}
}

// makeScript genera un edit script válido que transforma previous en
// next, de forma independiente al decodificador: copia prefijos
// comunes y codifica el resto como insert. Los offsets se cuentan en
// caracteres, igual que los genera el servidor.
func makeScript(previous, next string) string {
	prev, dst := []rune(previous), []rune(next)

	var ops []string
	common := 0
	for common < len(prev) && common < len(dst) && prev[common] == dst[common] {
		common++
	}
	if common > 0 {
		ops = append(ops, fmt.Sprintf("=%d", common))
	}
	if rest := len(prev) - common; rest > 0 {
		ops = append(ops, fmt.Sprintf("-%d", rest))
	}
	if tail := string(dst[common:]); tail != "" {
		ops = append(ops, "+"+url.QueryEscape(tail))
	}
	if len(ops) == 0 {
		ops = append(ops, "=0")
	}
	return strings.Join(ops, "\t")
}

func TestApplyDelta_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	// Sin espacios: el decodificador recorta los literales insertados,
	// así que un espacio en la frontera del insert no sobreviviría.
	alphabet := []rune(`abc123{}":,.üöä€`)

	randomPayload := func() string {
		n := rng.Intn(80)
		var b strings.Builder
		for i := 0; i < n; i++ {
			b.WriteRune(alphabet[rng.Intn(len(alphabet))])
		}
		return b.String()
	}

	for i := 0; i < 200; i++ {
		previous := randomPayload()
		next := randomPayload()

		got, err := applyDelta(previous, makeScript(previous, next))
		require.NoError(t, err, "previous=%q next=%q", previous, next)
		assert.Equal(t, next, got, "previous=%q", previous)
	}
}
