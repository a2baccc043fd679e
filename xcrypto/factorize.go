package xcrypto

import (
	"context"
	"errors"
	"math/big"
	mrand "math/rand"
)

// ErrFactorizationFailed is returned when no factor could be found; for a
// genuine semiprime this should never happen given enough iterations, but a
// caller-supplied context can cut the search short.
var ErrFactorizationFailed = errors.New("xcrypto: factorization failed")

// Factorize returns the two prime factors of a semiprime pq (pq <= 2^63),
// in ascending order, using Pollard's rho with Floyd cycle detection, which
// comfortably finishes well under a second for the handshake's 63-bit
// products.
func Factorize(pq uint64) (p, q uint64, err error) {
	return FactorizeContext(context.Background(), pq)
}

// FactorizeContext is Factorize with cancellation, so a caller enforcing its
// own handshake deadline (the handshake has no built-in timeout) can abort a
// pathological factorization attempt.
func FactorizeContext(ctx context.Context, pq uint64) (p, q uint64, err error) {
	if pq < 2 {
		return 0, 0, ErrFactorizationFailed
	}
	n := new(big.Int).SetUint64(pq)
	if n.ProbablyPrime(20) {
		return 0, 0, ErrFactorizationFailed
	}
	if pq%2 == 0 {
		return 2, pq / 2, nil
	}

	d, err := pollardRho(ctx, n)
	if err != nil {
		return 0, 0, err
	}
	p64 := d.Uint64()
	q64 := pq / p64
	if p64 > q64 {
		p64, q64 = q64, p64
	}
	return p64, q64, nil
}

// pollardRho finds one non-trivial factor of composite odd n, restarting
// with a new pseudo-random (x0, c) parametrization whenever a cycle
// collapses onto n itself instead of a proper factor.
func pollardRho(ctx context.Context, n *big.Int) (*big.Int, error) {
	rng := mrand.New(mrand.NewSource(1))
	one := big.NewInt(1)

	f := func(x, c *big.Int) *big.Int {
		r := new(big.Int).Mul(x, x)
		r.Add(r, c)
		r.Mod(r, n)
		return r
	}

	for attempt := 0; attempt < 128; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		c := randBigInt(rng, n)
		if c.Sign() == 0 {
			c.SetInt64(1)
		}
		x := randBigInt(rng, n)
		y := new(big.Int).Set(x)
		d := big.NewInt(1)
		diff := new(big.Int)

		steps := 0
		for d.Cmp(one) == 0 {
			x = f(x, c)
			y = f(f(y, c), c)
			diff.Sub(x, y)
			diff.Abs(diff)
			if diff.Sign() == 0 {
				break // cycle collapsed without splitting n; retry with new params
			}
			d.GCD(nil, nil, diff, n)

			steps++
			if steps%4096 == 0 {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				default:
				}
			}
		}

		if d.Sign() > 0 && d.Cmp(n) != 0 {
			return d, nil
		}
	}
	return nil, ErrFactorizationFailed
}

func randBigInt(rng *mrand.Rand, n *big.Int) *big.Int {
	// n fits comfortably in 63 bits for this protocol's pq, so drawing from
	// a math/rand source (not crypto/rand) is fine: this picks a search
	// starting point, not a secret.
	max := new(big.Int).Sub(n, big.NewInt(2))
	if max.Sign() <= 0 {
		return big.NewInt(1)
	}
	v := new(big.Int).Rand(rng, max)
	return v.Add(v, big.NewInt(2))
}
