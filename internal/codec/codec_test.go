package codec

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transfer struct {
	From   string  `json:"from"`
	To     string  `json:"to"`
	Amount float64 `json:"amount"`
	Memo   *string `json:"memo"`
}

func TestRoundTripZeroArgument(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	calls := 0
	require.NoError(t, r.Register("ping", func(ctx context.Context) error {
		calls++
		return nil
	}))

	p, err := r.Encode("ping", nil)
	require.NoError(t, err)
	assert.Equal(t, Payload{Action: "ping", Arguments: "null"}, p)

	act, err := r.Decode(p)
	require.NoError(t, err)
	require.NoError(t, act.Run(context.Background()))
	assert.Equal(t, 1, calls)
	assert.Equal(t, "ping", act.Handler)
}

func TestRoundTripMultiArgument(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	var direct, decoded []transfer
	fn := func(ctx context.Context, tr transfer) error {
		direct = append(direct, tr)
		return nil
	}
	require.NoError(t, RegisterFunc(r, "wallet.transfer", func(ctx context.Context, tr transfer) error {
		decoded = append(decoded, tr)
		return nil
	}))

	args := transfer{From: "a", To: "b", Amount: 12.5}
	require.NoError(t, fn(context.Background(), args))

	p, err := r.Encode("wallet.transfer", args)
	require.NoError(t, err)
	act, err := r.Decode(p)
	require.NoError(t, err)
	require.NoError(t, act.Run(context.Background()))

	assert.Equal(t, direct, decoded)
}

func TestRoundTripNestedContainers(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	var got []any
	require.NoError(t, RegisterFunc(r, "batch", func(ctx context.Context, args []any) error {
		got = args
		return nil
	}))

	p, err := r.Encode("batch", []any{1, "two", true, nil, map[string]any{"k": []any{3.5}}})
	require.NoError(t, err)
	act, err := r.Decode(p)
	require.NoError(t, err)
	require.NoError(t, act.Run(context.Background()))
	assert.Equal(t, []any{float64(1), "two", true, nil, map[string]any{"k": []any{3.5}}}, got)
}

func TestDecodeUnknownHandler(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	require.NoError(t, r.Register("gone", func(ctx context.Context) error { return nil }))
	p, err := r.Encode("gone", nil)
	require.NoError(t, err)

	r.Unregister("gone")
	_, err = r.Decode(p)
	assert.True(t, errors.Is(err, ErrUnknownHandler), "got %v", err)

	_, err = r.Encode("gone", nil)
	assert.True(t, errors.Is(err, ErrUnknownHandler))
}

func TestDecodeCorruptPayload(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	require.NoError(t, RegisterFunc(r, "wallet.transfer", func(ctx context.Context, tr transfer) error { return nil }))
	require.NoError(t, r.Register("ping", func(ctx context.Context) error { return nil }))

	tests := []struct {
		name string
		p    Payload
	}{
		{name: "not json", p: Payload{Action: "wallet.transfer", Arguments: "{oops"}},
		{name: "wrong shape", p: Payload{Action: "wallet.transfer", Arguments: `[1,2]`}},
		{name: "unknown field", p: Payload{Action: "wallet.transfer", Arguments: `{"from":"a","currency":"eur"}`}},
		{name: "empty", p: Payload{Action: "wallet.transfer", Arguments: ""}},
		{name: "trailing data", p: Payload{Action: "wallet.transfer", Arguments: `{"from":"a"} {"to":"b"}`}},
		{name: "zero-arg invalid json", p: Payload{Action: "ping", Arguments: "{"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Decode(tt.p)
			assert.True(t, errors.Is(err, ErrCorruptPayload), "got %v", err)
		})
	}
}

func TestEncodeRejectsBadArguments(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	require.NoError(t, RegisterFunc(r, "wallet.transfer", func(ctx context.Context, tr transfer) error { return nil }))

	_, err := r.Encode("wallet.transfer", make(chan int))
	assert.True(t, errors.Is(err, ErrInvalidArguments), "got %v", err)

	_, err = r.Encode("wallet.transfer", "just a string")
	assert.True(t, errors.Is(err, ErrInvalidArguments), "got %v", err)
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	assert.True(t, errors.Is(r.Register("  ", func(ctx context.Context) error { return nil }), ErrInvalidHandler))
	assert.True(t, errors.Is(r.Register("x", nil), ErrInvalidHandler))
	require.NoError(t, r.Register("x", func(ctx context.Context) error { return nil }))
	assert.True(t, errors.Is(r.Register("x", func(ctx context.Context) error { return nil }), ErrHandlerExists))
	assert.Equal(t, []string{"x"}, r.Names())
	assert.True(t, r.Has(" x "))
}

func TestRunRecoversPanic(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	require.NoError(t, r.Register("boom", func(ctx context.Context) error { panic("kaboom") }))
	act, err := r.Decode(Payload{Action: "boom", Arguments: "null"})
	require.NoError(t, err)
	err = act.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}
