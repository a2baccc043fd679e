package xcrypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFactorizeKnownSemiprime(t *testing.T) {
	const p, q uint64 = 1747145989, 1747146013 // both prime, product < 2^63
	pq := p * q

	gotP, gotQ, err := Factorize(pq)
	require.NoError(t, err)
	require.Equal(t, p, gotP)
	require.Equal(t, q, gotQ)
}

func TestFactorizeSmall(t *testing.T) {
	gotP, gotQ, err := Factorize(15)
	require.NoError(t, err)
	require.Equal(t, uint64(3), gotP)
	require.Equal(t, uint64(5), gotQ)
}

func TestFactorizeRejectsPrime(t *testing.T) {
	_, _, err := Factorize(1747145989)
	require.ErrorIs(t, err, ErrFactorizationFailed)
}
