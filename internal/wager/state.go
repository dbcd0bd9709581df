package wager

import "fmt"

// State representa o estágio do ciclo de vida de uma aposta
type State string

const (
	StateCreated    State = "CREATED"
	StateStarted    State = "STARTED"
	StatePlayerAWon State = "PLAYER_A_WON"
	StatePlayerBWon State = "PLAYER_B_WON"
	StateDraw       State = "DRAW"
)

// transitions é a tabela fechada de transições permitidas.
// Estados terminais não possuem saída.
var transitions = map[State][]State{
	StateCreated: {StateStarted},
	StateStarted: {StatePlayerAWon, StatePlayerBWon, StateDraw},
}

// Valid indica se o valor pertence ao conjunto conhecido de estados
func (s State) Valid() bool {
	switch s {
	case StateCreated, StateStarted, StatePlayerAWon, StatePlayerBWon, StateDraw:
		return true
	}
	return false
}

// Terminal retorna true quando a aposta já foi liquidada
func (s State) Terminal() bool {
	return s == StatePlayerAWon || s == StatePlayerBWon || s == StateDraw
}

// CanTransition verifica se s -> to está na tabela de transições
func (s State) CanTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s State) transition(to State) (State, error) {
	if !s.CanTransition(to) {
		return s, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s, to)
	}
	return to, nil
}

func ParseState(v string) (State, error) {
	s := State(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown bet state %q", v)
	}
	return s, nil
}
