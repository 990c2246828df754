package executor

import (
	"context"
	"crypto/rand"
	"io"
	"math"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/credit-ledger/credit"
)

// RandomStringLength is the length of RANDOM_STRING results.
const RandomStringLength = 16

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Local computes results in-process.
type Local struct {
	// Rand is the entropy source for RANDOM_STRING. Defaults to crypto/rand.
	Rand io.Reader
}

var _ credit.Executor = (*Local)(nil)

func NewLocal() *Local {
	return &Local{Rand: rand.Reader}
}

// Invoke formats the computed value as "Result: <value>".
func (l *Local) Invoke(_ context.Context, kind credit.Kind, operand1 float64, operand2 *float64) string {
	out, ok := l.Compute(kind, operand1, operand2)
	if !ok {
		return credit.ProviderFailure
	}
	return "Result: " + out
}

// Compute returns the bare result. ok is false for inputs the operation
// cannot handle.
func (l *Local) Compute(kind credit.Kind, operand1 float64, operand2 *float64) (string, bool) {
	if kind == credit.RandomString {
		s, err := l.randomString(RandomStringLength)
		return s, err == nil
	}
	if kind == credit.SquareRoot {
		if operand1 < 0 {
			return "", false
		}
		return format(decimal.NewFromFloat(math.Sqrt(operand1))), true
	}

	if operand2 == nil {
		return "", false
	}
	a, b := decimal.NewFromFloat(operand1), decimal.NewFromFloat(*operand2)
	switch kind {
	case credit.Addition:
		return format(a.Add(b)), true
	case credit.Subtraction:
		return format(a.Sub(b)), true
	case credit.Multiplication:
		return format(a.Mul(b)), true
	case credit.Division:
		if b.IsZero() {
			return "", false
		}
		return format(a.Div(b)), true
	}
	return "", false
}

// format renders integral values with one decimal place ("8.0").
func format(d decimal.Decimal) string {
	s := d.String()
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

func (l *Local) randomString(n int) (string, error) {
	src := l.Rand
	if src == nil {
		src = rand.Reader
	}
	limit := big.NewInt(int64(len(alphabet)))
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(src, limit)
		if err != nil {
			return "", err
		}
		b.WriteByte(alphabet[idx.Int64()])
	}
	return b.String(), nil
}
