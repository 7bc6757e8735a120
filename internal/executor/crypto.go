package executor

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Stand-in handlers for the privacy compute backends. They produce
// deterministic, shaped output so the scheduling core and its API can be
// exercised end to end; the real cryptographic services live outside this
// repository and are swapped in through the Registry.

// Encrypt simulates symmetric encryption of a payload.
type Encrypt struct{}

type encryptReq struct {
	Data  string `json:"data"`
	KeyID string `json:"key_id"`
}

func (Encrypt) Execute(ctx context.Context, payload []byte) (any, error) {
	var req encryptReq
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("invalid encrypt payload: %w", err)
	}
	if req.Data == "" {
		return nil, fmt.Errorf("data is required")
	}
	key := sha256.Sum256([]byte(req.KeyID))
	data := []byte(req.Data)
	out := make([]byte, len(data))
	for i := range data {
		out[i] = data[i] ^ key[i%len(key)]
	}
	return map[string]any{
		"ciphertext": base64.StdEncoding.EncodeToString(out),
		"key_id":     req.KeyID,
	}, nil
}

// Proof simulates generation of a commitment proof over a payload.
type Proof struct{}

type proofReq struct {
	Statement string `json:"statement"`
	Witness   string `json:"witness"`
}

func (Proof) Execute(ctx context.Context, payload []byte) (any, error) {
	var req proofReq
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("invalid proof payload: %w", err)
	}
	if req.Statement == "" {
		return nil, fmt.Errorf("statement is required")
	}
	commitment := sha256.Sum256([]byte(req.Statement))
	proof := sha256.Sum256([]byte(req.Statement + ":" + req.Witness))
	return map[string]any{
		"commitment": hex.EncodeToString(commitment[:]),
		"proof":      hex.EncodeToString(proof[:]),
	}, nil
}

// Aggregate simulates a secure aggregation over numeric shares.
type Aggregate struct{}

type aggregateReq struct {
	Shares []float64 `json:"shares"`
}

func (Aggregate) Execute(ctx context.Context, payload []byte) (any, error) {
	var req aggregateReq
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("invalid aggregate payload: %w", err)
	}
	if len(req.Shares) == 0 {
		return nil, fmt.Errorf("at least one share is required")
	}
	var sum float64
	for _, s := range req.Shares {
		sum += s
	}
	return map[string]any{
		"sum":   sum,
		"count": len(req.Shares),
	}, nil
}
