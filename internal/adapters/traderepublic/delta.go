package traderepublic

// delta.go — decodificador de payloads incrementales.
//
// En vez de retransmitir el payload completo, el broker manda un edit
// script: operaciones separadas por tab que reconstruyen el payload
// nuevo a partir del anterior. Es un patch copy/skip/insert con cursor
// compartido, no un diff genérico: las operaciones se aplican en orden
// estricto porque todas avanzan el mismo cursor sobre el texto previo.

import (
	"net/url"
	"strconv"
	"strings"
)

// applyDelta reconstruye el payload completo aplicando el edit script
// sobre previous. Operaciones:
//
//	+literal  añade el literal (percent/plus-encoded) al resultado
//	-n        salta n caracteres de previous sin emitirlos
//	=n        copia n caracteres de previous al resultado
//
// Los offsets del servidor cuentan caracteres, no bytes: el cursor
// avanza sobre runas para que un payload con nombres no ASCII
// ("Münchener Rück") no desalinee las copias. Un script que referencia
// offsets fuera de previous es un error de protocolo y se reporta,
// nunca se trunca en silencio.
func applyDelta(previous, script string) (string, error) {
	prev := []rune(previous)

	var out strings.Builder
	i := 0

	for _, op := range strings.Split(script, "\t") {
		if op == "" {
			return "", &DecodeError{Op: op, Reason: "empty operation"}
		}

		switch op[0] {
		case '+':
			// El literal viene plus-encoded; el propio '+' inicial se
			// decodifica a espacio y cae con el trim, igual que los
			// espacios de relleno del final.
			lit, err := url.QueryUnescape(op)
			if err != nil {
				return "", &DecodeError{Op: op, Reason: "bad escape: " + err.Error()}
			}
			out.WriteString(strings.TrimSpace(lit))

		case '-', '=':
			n, err := strconv.Atoi(op[1:])
			if err != nil || n < 0 {
				return "", &DecodeError{Op: op, Reason: "bad length"}
			}
			if i+n > len(prev) {
				return "", &DecodeError{Op: op, Reason: "range past end of previous payload"}
			}
			if op[0] == '=' {
				out.WriteString(string(prev[i : i+n]))
			}
			i += n

		default:
			return "", &DecodeError{Op: op, Reason: "unknown operation"}
		}
	}

	return out.String(), nil
}
