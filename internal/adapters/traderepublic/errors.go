package traderepublic

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Errores del registro de suscripciones.
var (
	// ErrUnknownSubscription: llegó un frame para un id que no está registrado.
	ErrUnknownSubscription = errors.New("traderepublic: unknown subscription id")

	// ErrMissingBase: llegó un delta para un id sin payload completo previo.
	ErrMissingBase = errors.New("traderepublic: delta without base payload")
)

// HandshakeError: el primer frame tras el connect no fue el literal
// "connected". Fatal, no se reintenta.
type HandshakeError struct {
	Response string
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("traderepublic: handshake rejected, got %q instead of \"connected\"", e.Response)
}

// AuthError: login o refresh rechazados por el broker.
type AuthError struct {
	Status int
	Body   string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("traderepublic: auth rejected with status %d: %s", e.Status, e.Body)
}

// DecodeError: el edit script de un delta es inválido (operación
// malformada u offsets fuera del payload base). Fatal solo para esa
// suscripción.
type DecodeError struct {
	Op     string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("traderepublic: bad delta op %q: %s", e.Op, e.Reason)
}

// ProtocolError: el servidor respondió con un frame E para una
// suscripción. Lleva la petición original y el cuerpo de error del
// servidor para que el caller pueda decidir sin depender del stack.
type ProtocolError struct {
	SubscriptionID string
	Request        json.RawMessage
	Payload        json.RawMessage
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("traderepublic: server error for subscription %s: %s", e.SubscriptionID, e.Payload)
}
