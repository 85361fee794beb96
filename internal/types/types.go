package types

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Transaction is a signed invocation of a program function. The ID commits to
// every field except the signature; the signature covers the ID.
type Transaction struct {
	ID        common.Hash    `json:"id"`
	Program   string         `json:"program"`
	Function  string         `json:"function"`
	Inputs    []string       `json:"inputs"`
	Sender    common.Address `json:"sender"`
	Nonce     uint64         `json:"nonce"`
	Signature []byte         `json:"signature"`
}

// ComputeID returns the canonical hash of the transaction body.
func (tx *Transaction) ComputeID() common.Hash {
	buf := make([]byte, 0, 128)
	buf = append(buf, []byte(tx.Program)...)
	buf = append(buf, 0)
	buf = append(buf, []byte(tx.Function)...)
	buf = append(buf, 0)
	for _, in := range tx.Inputs {
		buf = append(buf, []byte(in)...)
		buf = append(buf, 0)
	}
	buf = append(buf, tx.Sender.Bytes()...)
	buf = binary.BigEndian.AppendUint64(buf, tx.Nonce)
	return gethcrypto.Keccak256Hash(buf)
}

// Verify checks that the ID matches the body.
func (tx *Transaction) Verify() error {
	if tx.ComputeID() != tx.ID {
		return fmt.Errorf("transaction id mismatch")
	}
	return nil
}

// Block is a validated unit of the chain.
type Block struct {
	Height       uint64         `json:"height"`
	Hash         common.Hash    `json:"hash"`
	PreviousHash common.Hash    `json:"previous_hash"`
	Timestamp    int64          `json:"timestamp"`
	Validator    common.Address `json:"validator"`
	Transactions []Transaction  `json:"transactions"`
}

// ComputeHash returns the canonical hash of the block header, committing to
// the height, parent, timestamp, validator and the ordered transaction IDs.
func (b *Block) ComputeHash() common.Hash {
	buf := make([]byte, 0, 128+32*len(b.Transactions))
	buf = binary.BigEndian.AppendUint64(buf, b.Height)
	buf = append(buf, b.PreviousHash.Bytes()...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(b.Timestamp))
	buf = append(buf, b.Validator.Bytes()...)
	for i := range b.Transactions {
		buf = append(buf, b.Transactions[i].ID.Bytes()...)
	}
	return gethcrypto.Keccak256Hash(buf)
}

// Seal fills in the block hash from the current header contents.
func (b *Block) Seal() {
	b.Hash = b.ComputeHash()
}

// VerifyIntegrity checks the stored hash and transaction IDs against their
// recomputed values.
func (b *Block) VerifyIntegrity() error {
	for i := range b.Transactions {
		if err := b.Transactions[i].Verify(); err != nil {
			return fmt.Errorf("transaction %d: %w", i, err)
		}
	}
	if b.ComputeHash() != b.Hash {
		return fmt.Errorf("block hash mismatch at height %d", b.Height)
	}
	return nil
}

// NewGenesisBlock builds the height-0 block for a chain rooted at the given
// validator identity.
func NewGenesisBlock(validator common.Address, timestamp int64) *Block {
	b := &Block{
		Height:    0,
		Timestamp: timestamp,
		Validator: validator,
	}
	b.Seal()
	return b
}

// BlockLocator is a confirmed height to hash binding in the local view of the
// canonical chain.
type BlockLocator struct {
	Height uint64      `json:"height"`
	Hash   common.Hash `json:"hash"`
}
