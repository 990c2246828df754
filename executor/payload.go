/*
Package executor provides the compute providers behind credit.Executor.

PURPOSE:
  The engine never computes results itself. It hands the operation to an
  executor and records whatever comes back. Every implementation here turns
  provider faults into credit.ProviderFailure instead of an error.

IMPLEMENTATIONS:
  HTTP:   POSTs the payload to a remote endpoint
  Lambda: Invokes an AWS Lambda function (aws-sdk-go-v2)
  Local:  Computes in-process; also served by cmd/executor

WIRE FORMAT:
  {"operationType":"DIVISION","value1":8,"value2":2}
  value2 is null for unary operations. The response body is the result.

SEE ALSO:
  - credit/ports.go: Executor interface
*/
package executor

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/credit-ledger/credit"
)

// Payload is the request body sent to a remote executor.
type Payload struct {
	OperationType string       `json:"operationType"`
	Value1        json.Number  `json:"value1"`
	Value2        *json.Number `json:"value2"`
}

// NewPayload encodes operands as exact decimal literals.
func NewPayload(kind credit.Kind, operand1 float64, operand2 *float64) Payload {
	p := Payload{
		OperationType: kind.String(),
		Value1:        number(operand1),
	}
	if operand2 != nil {
		n := number(*operand2)
		p.Value2 = &n
	}
	return p
}

func number(v float64) json.Number {
	return json.Number(decimal.NewFromFloat(v).String())
}

// Operands decodes the payload back into engine types.
func (p Payload) Operands() (credit.Kind, float64, *float64, error) {
	kind, err := credit.ParseKind(p.OperationType)
	if err != nil {
		return "", 0, nil, err
	}
	if p.Value1 == "" {
		return "", 0, nil, fmt.Errorf("value1 is required")
	}
	v1, err := p.Value1.Float64()
	if err != nil {
		return "", 0, nil, fmt.Errorf("value1: %w", err)
	}
	if p.Value2 == nil {
		return kind, v1, nil, nil
	}
	v2, err := p.Value2.Float64()
	if err != nil {
		return "", 0, nil, fmt.Errorf("value2: %w", err)
	}
	return kind, v1, &v2, nil
}

// Marshal encodes the payload.
func (p Payload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}
