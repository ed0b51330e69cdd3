package traderepublic

// registry.go — registro de suscripciones vivas.
//
// Único dueño del estado por suscripción: la petición original, el
// último payload completo (la base del decodificador de deltas) y el
// canal del waiter. Ningún otro componente cachea payloads: solo el
// emparejamiento cursor/base del registro es entrada válida para
// applyDelta.

import (
	"encoding/json"
	"strconv"
	"sync"
)

// result es lo que el demux loop entrega al waiter de una suscripción:
// un payload decodificado o un error, nunca ambos.
type result struct {
	payload json.RawMessage
	err     error
}

// subscription es una entrada viva del registro.
type subscription struct {
	request    json.RawMessage
	payload    string // último payload completo
	hasPayload bool
	ch         chan result
}

// registry asigna ids y guarda las suscripciones vivas. Los ids salen
// de un contador monótono y nunca se reutilizan.
type registry struct {
	mu   sync.Mutex
	next uint64
	subs map[string]*subscription
}

func newRegistry() *registry {
	return &registry{next: 1, subs: make(map[string]*subscription)}
}

// allocate asigna el siguiente id y registra la petición, todavía sin
// payload. El canal va con buffer: el demux loop no debe bloquearse
// porque un waiter tarde en consumir.
func (r *registry) allocate(request json.RawMessage) (string, *subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := strconv.FormatUint(r.next, 10)
	r.next++

	sub := &subscription{request: request, ch: make(chan result, 16)}
	r.subs[id] = sub
	return id, sub
}

func (r *registry) get(id string) (*subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	return sub, ok
}

// recordAnswer guarda el payload completo como nueva base y lo devuelve.
func (r *registry) recordAnswer(id, payload string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[id]
	if !ok {
		return "", ErrUnknownSubscription
	}
	sub.payload = payload
	sub.hasPayload = true
	return payload, nil
}

// recordDelta decodifica el edit script contra la base guardada,
// almacena el resultado como nueva base y lo devuelve.
func (r *registry) recordDelta(id, script string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[id]
	if !ok {
		return "", ErrUnknownSubscription
	}
	if !sub.hasPayload {
		return "", ErrMissingBase
	}

	decoded, err := applyDelta(sub.payload, script)
	if err != nil {
		return "", err
	}
	sub.payload = decoded
	return decoded, nil
}

// release elimina la suscripción y su payload. Liberar dos veces es un
// no-op, no un error.
func (r *registry) release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, id)
}

// failAll entrega err a todos los waiters pendientes y vacía el
// registro. Se usa cuando el socket muere: ninguna suscripción puede
// sobrevivir a la conexión.
func (r *registry) failAll(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, sub := range r.subs {
		select {
		case sub.ch <- result{err: err}:
		default:
		}
		delete(r.subs, id)
	}
}
