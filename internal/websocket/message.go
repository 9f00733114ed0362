// Package websocket implements the pub/sub hub that streams job lifecycle
// updates to connected clients. It uses gorilla/websocket under the hood and
// exposes a topic-based broadcast API fed by the event emitter.
//
// Topic naming convention:
//
//	job:<uuid>   events and log excerpts for a specific job
package websocket

// Message is the envelope for every frame sent to clients.
type Message struct {
	// Topic is the pub/sub channel this message was published on.
	Topic string `json:"topic"`

	// Payload carries the event data: an events.Message for job topics.
	Payload any `json:"payload"`
}
