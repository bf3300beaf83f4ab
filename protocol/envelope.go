package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Address identifies a message source or destination. An empty Node
// addresses every node of the role.
type Address struct {
	Role string `json:"role"`
	Node string `json:"node"`
}

func (a Address) String() string {
	if a.Node == "" {
		return a.Role + "/*"
	}
	return a.Role + "/" + a.Node
}

// Header carries the routing fields. Receivers decode it alone first and
// only touch the payload of messages meant for them.
type Header struct {
	Version   int       `json:"v"`
	Type      string    `json:"type"`
	ID        string    `json:"id"`
	Src       Address   `json:"src"`
	Dst       Address   `json:"dst"`
	ExpiresAt time.Time `json:"exp"`
}

// Expired reports whether the message is past its TTL at now. Messages
// without an expiry never expire.
func (h *Header) Expired(now time.Time) bool {
	return !h.ExpiresAt.IsZero() && now.UTC().After(h.ExpiresAt)
}

// Envelope is a complete message as it travels over MQTT or Kafka.
type Envelope struct {
	Header
	Timestamp time.Time       `json:"ts"`
	Payload   json.RawMessage `json:"p"`
}

// NewEnvelope builds an outbound message stamped now, expiring after the
// TTL of its type.
func NewEnvelope(msgType string, src, dst Address, payload any) (*Envelope, error) {
	return newEnvelopeAt(msgType, src, dst, payload, time.Now())
}

func newEnvelopeAt(msgType string, src, dst Address, payload any, at time.Time) (*Envelope, error) {
	p, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", msgType, err)
	}
	at = at.UTC()
	return &Envelope{
		Header: Header{
			Version:   Version,
			Type:      msgType,
			ID:        uuid.NewString(),
			Src:       src,
			Dst:       dst,
			ExpiresAt: at.Add(TTL(msgType)),
		},
		Timestamp: at,
		Payload:   p,
	}, nil
}

func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodePayload unmarshals the payload into target.
func (e *Envelope) DecodePayload(target any) error {
	if err := json.Unmarshal(e.Payload, target); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}
