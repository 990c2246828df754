package executor_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/credit-ledger/credit"
	"github.com/warp/credit-ledger/executor"
)

func f(v float64) *float64 { return &v }

// =============================================================================
// PAYLOAD
// =============================================================================

func TestPayload_WireFormat(t *testing.T) {
	body, err := executor.NewPayload(credit.Division, 8, f(2)).Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, `{"operationType":"DIVISION","value1":8,"value2":2}`, string(body))

	body, err = executor.NewPayload(credit.SquareRoot, 2.25, nil).Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, `{"operationType":"SQUARE_ROOT","value1":2.25,"value2":null}`, string(body))
}

func TestPayload_Operands(t *testing.T) {
	var p executor.Payload
	require.NoError(t, json.Unmarshal([]byte(`{"operationType":"addition","value1":1.5,"value2":2}`), &p))

	kind, v1, v2, err := p.Operands()
	require.NoError(t, err)
	assert.Equal(t, credit.Addition, kind)
	assert.Equal(t, 1.5, v1)
	require.NotNil(t, v2)
	assert.Equal(t, 2.0, *v2)

	p = executor.Payload{OperationType: "MODULO", Value1: "1"}
	_, _, _, err = p.Operands()
	assert.ErrorIs(t, err, credit.ErrInvalidRequest)
}

// =============================================================================
// LOCAL
// =============================================================================

func TestLocal_Invoke(t *testing.T) {
	local := executor.NewLocal()
	ctx := context.Background()

	tests := []struct {
		name string
		kind credit.Kind
		v1   float64
		v2   *float64
		want string
	}{
		{"integer division renders one decimal", credit.Division, 8, f(2), "Result: 4.0"},
		{"addition is exact", credit.Addition, 0.1, f(0.2), "Result: 0.3"},
		{"subtraction", credit.Subtraction, 5, f(7), "Result: -2.0"},
		{"multiplication", credit.Multiplication, 2.5, f(4), "Result: 10.0"},
		{"square root", credit.SquareRoot, 2.25, nil, "Result: 1.5"},
		{"division by zero fails", credit.Division, 1, f(0), credit.ProviderFailure},
		{"negative square root fails", credit.SquareRoot, -4, nil, credit.ProviderFailure},
		{"missing operand fails", credit.Addition, 1, nil, credit.ProviderFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, local.Invoke(ctx, tt.kind, tt.v1, tt.v2))
		})
	}
}

func TestLocal_RandomString(t *testing.T) {
	out := executor.NewLocal().Invoke(context.Background(), credit.RandomString, 0, nil)
	assert.Regexp(t, regexp.MustCompile(`^Result: [A-Za-z0-9]{16}$`), out)
}

func TestLocal_RandomStringEntropyFailure(t *testing.T) {
	local := &executor.Local{Rand: bytes.NewReader(nil)}
	assert.Equal(t, credit.ProviderFailure, local.Invoke(context.Background(), credit.RandomString, 0, nil))
}

// =============================================================================
// HTTP
// =============================================================================

func TestHTTP_SendsPayloadAndReturnsBody(t *testing.T) {
	var got executor.Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		io.WriteString(w, "Result: 4.0")
	}))
	defer srv.Close()

	h := executor.NewHTTP(srv.URL, srv.Client(), time.Second, zerolog.Nop())
	out := h.Invoke(context.Background(), credit.Division, 8, f(2))

	assert.Equal(t, "Result: 4.0", out)
	assert.Equal(t, "DIVISION", got.OperationType)
}

func TestHTTP_FailuresBecomeSentinel(t *testing.T) {
	t.Run("error status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer srv.Close()

		h := executor.NewHTTP(srv.URL, srv.Client(), time.Second, zerolog.Nop())
		assert.Equal(t, credit.ProviderFailure, h.Invoke(context.Background(), credit.Addition, 1, f(1)))
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		h := executor.NewHTTP(srv.URL, srv.Client(), 20*time.Millisecond, zerolog.Nop())
		assert.Equal(t, credit.ProviderFailure, h.Invoke(context.Background(), credit.Addition, 1, f(1)))
	})

	t.Run("unreachable", func(t *testing.T) {
		h := executor.NewHTTP("http://127.0.0.1:1/invoke", nil, time.Second, zerolog.Nop())
		assert.Equal(t, credit.ProviderFailure, h.Invoke(context.Background(), credit.Addition, 1, f(1)))
	})
}

func TestHTTP_AgainstLocalHandler(t *testing.T) {
	srv := httptest.NewServer(executor.NewHandler(executor.NewLocal(), zerolog.Nop()))
	defer srv.Close()

	h := executor.NewHTTP(srv.URL+"/invoke", srv.Client(), time.Second, zerolog.Nop())
	assert.Equal(t, "Result: 8.0", h.Invoke(context.Background(), credit.Multiplication, 2, f(4)))
	assert.Equal(t, credit.ProviderFailure, h.Invoke(context.Background(), credit.Division, 2, f(0)))
}

func TestHandler_RejectsBadPayload(t *testing.T) {
	srv := httptest.NewServer(executor.NewHandler(executor.NewLocal(), zerolog.Nop()))
	defer srv.Close()

	resp, err := srv.Client().Post(srv.URL+"/invoke", "application/json", strings.NewReader(`{"operationType":`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// LAMBDA
// =============================================================================

type fakeLambda struct {
	input *lambda.InvokeInput
	out   *lambda.InvokeOutput
	err   error
}

func (f *fakeLambda) Invoke(_ context.Context, in *lambda.InvokeInput, _ ...func(*lambda.Options)) (*lambda.InvokeOutput, error) {
	f.input = in
	return f.out, f.err
}

// hungLambda never answers on its own.
type hungLambda struct{}

func (hungLambda) Invoke(ctx context.Context, _ *lambda.InvokeInput, _ ...func(*lambda.Options)) (*lambda.InvokeOutput, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestLambda_Invoke(t *testing.T) {
	fake := &fakeLambda{out: &lambda.InvokeOutput{StatusCode: 200, Payload: []byte(`"Result: 3.0"`)}}
	l := executor.NewLambda(fake, "calculator", 0, zerolog.Nop())

	out := l.Invoke(context.Background(), credit.Addition, 1, f(2))

	assert.Equal(t, `"Result: 3.0"`, out, "payload is returned verbatim")
	assert.Equal(t, "calculator", aws.ToString(fake.input.FunctionName))
	assert.JSONEq(t, `{"operationType":"ADDITION","value1":1,"value2":2}`, string(fake.input.Payload))
}

func TestLambda_FailuresBecomeSentinel(t *testing.T) {
	l := executor.NewLambda(&fakeLambda{err: errors.New("ResourceNotFoundException")}, "missing", 0, zerolog.Nop())
	assert.Equal(t, credit.ProviderFailure, l.Invoke(context.Background(), credit.Addition, 1, f(2)))

	l = executor.NewLambda(&fakeLambda{out: &lambda.InvokeOutput{
		StatusCode:    200,
		FunctionError: aws.String("Unhandled"),
		Payload:       []byte(`{"errorMessage":"boom"}`),
	}}, "calculator", 0, zerolog.Nop())
	assert.Equal(t, credit.ProviderFailure, l.Invoke(context.Background(), credit.Addition, 1, f(2)))
}

func TestLambda_TimeoutBecomesSentinel(t *testing.T) {
	// GIVEN: A function that never returns
	// WHEN: Invoking with a 20ms timeout and no caller deadline
	// THEN: The sentinel comes back once the timeout fires

	l := executor.NewLambda(hungLambda{}, "calculator", 20*time.Millisecond, zerolog.Nop())

	start := time.Now()
	out := l.Invoke(context.Background(), credit.Addition, 1, f(2))

	assert.Equal(t, credit.ProviderFailure, out)
	assert.Less(t, time.Since(start), 2*time.Second)
}
