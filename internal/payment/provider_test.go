package payment

import (
	"testing"

	"github.com/example/ec-fulfillment/internal/apperr"
	"github.com/example/ec-fulfillment/internal/domain/order"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	rp := NewRazorpay(RazorpayConfig{})
	reg := NewRegistry(rp)

	got, err := reg.Get(order.ProviderRazorpay)
	require.NoError(t, err)
	assert.Same(t, rp, got)

	_, err = reg.Get(order.ProviderCashfree)
	assert.ErrorIs(t, err, apperr.ErrInvalidRequest)
}

func TestCheckoutVerifierImplementations(t *testing.T) {
	var p Provider = NewRazorpay(RazorpayConfig{})
	_, ok := p.(CheckoutVerifier)
	assert.True(t, ok)

	p = NewCashfree(CashfreeConfig{})
	_, ok = p.(CheckoutVerifier)
	assert.False(t, ok)
}

func TestSignHex(t *testing.T) {
	// echo -n "hello" | openssl dgst -sha256 -hmac "key"
	assert.Equal(t, "9307b3b915efb5171ff14d8cb55fbcc798c6c0ef1456d66ded1a6aa723a58b7b", SignHex("key", []byte("hello")))
	assert.Equal(t, SignHex("key", []byte("hel"), []byte("lo")), SignHex("key", []byte("hello")))
}
