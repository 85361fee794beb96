package message

import (
	"encoding/json"
	"fmt"

	"valnode/internal/types"
)

// Type tags the payload carried by an Envelope.
type Type string

const (
	TypeBlockRequest           Type = "block_request"
	TypeBlockResponse          Type = "block_response"
	TypeUnconfirmedTransaction Type = "unconfirmed_transaction"
	TypePeerLocators           Type = "peer_locators"
)

// Envelope is the wire frame exchanged between peers.
type Envelope struct {
	Type    Type            `json:"type"`
	Origin  string          `json:"origin"`
	Payload json.RawMessage `json:"payload"`
}

// BlockRequest asks a peer for blocks in [StartHeight, EndHeight).
type BlockRequest struct {
	StartHeight uint64 `json:"start_height"`
	EndHeight   uint64 `json:"end_height"`
}

// BlockResponse carries the blocks satisfying a prior request.
type BlockResponse struct {
	Request BlockRequest  `json:"request"`
	Blocks  []types.Block `json:"blocks"`
}

// UnconfirmedTransaction propagates a transaction not yet included in a block.
type UnconfirmedTransaction struct {
	Transaction types.Transaction `json:"transaction"`
}

// PeerLocators advertises the sender's view of its canonical chain.
type PeerLocators struct {
	Locators []types.BlockLocator `json:"locators"`
}

// New wraps a payload in an envelope. The payload type determines the tag.
func New(origin string, payload interface{}) (*Envelope, error) {
	var t Type
	switch payload.(type) {
	case *BlockRequest, BlockRequest:
		t = TypeBlockRequest
	case *BlockResponse, BlockResponse:
		t = TypeBlockResponse
	case *UnconfirmedTransaction, UnconfirmedTransaction:
		t = TypeUnconfirmedTransaction
	case *PeerLocators, PeerLocators:
		t = TypePeerLocators
	default:
		return nil, fmt.Errorf("unsupported payload type %T", payload)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Envelope{Type: t, Origin: origin, Payload: raw}, nil
}

// Encode serializes the envelope for the wire.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses an envelope from the wire.
func Decode(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if e.Type == "" {
		return nil, fmt.Errorf("envelope missing type")
	}
	return &e, nil
}

// DecodePayload unmarshals the payload into out, which must match the
// envelope's type tag.
func (e *Envelope) DecodePayload(out interface{}) error {
	if err := json.Unmarshal(e.Payload, out); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}
