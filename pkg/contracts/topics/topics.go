package topics

const (
	// Ciclo de vida das apostas
	BetEvents = "bet_events"

	// DLQs
	BetEventsDLQ = "bet_events_dlq"

	// Canal Redis Pub/Sub consumido pelo websocket do bet-service
	BetEventsBroadcast = "bet_events_broadcast"
)
