package main

import (
	"fmt"

	"github.com/sara-star-quant/quantum-tls/pkg/bn"
)

type bnOptions struct {
	op        string
	a, e, m   string
	bits      int
	safe      bool
	consttime bool
}

func runBN(opts bnOptions) (string, error) {
	switch opts.op {
	case "modexp":
		a, e, m, err := parseOperands(opts.a, opts.e, opts.m)
		if err != nil {
			return "", err
		}
		z := bn.New()
		if opts.consttime {
			err = z.ModExpMontConsttime(a, e, m)
		} else {
			err = z.ModExp(a, e, m)
		}
		if err != nil {
			return "", err
		}
		return z.Decimal(), nil

	case "sqrt":
		a, m, err := parseTwo(opts.a, opts.m)
		if err != nil {
			return "", err
		}
		z := bn.New()
		if err := z.ModSqrt(a, m); err != nil {
			return "", err
		}
		return z.Decimal(), nil

	case "prime":
		p, err := bn.GeneratePrime(nil, opts.bits, opts.safe, nil, nil)
		if err != nil {
			return "", err
		}
		return "0x" + p.Hex(), nil

	case "isprime":
		a, err := parseOperand("a", opts.a)
		if err != nil {
			return "", err
		}
		ok, err := a.ProbablyPrime(nil, 0)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%t", ok), nil

	default:
		return "", fmt.Errorf("unknown operation %q (use modexp, sqrt, prime or isprime)", opts.op)
	}
}

func parseOperand(name, s string) (*bn.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("missing --%s", name)
	}
	v, err := bn.ParseASCII(s)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", name, err)
	}
	return v, nil
}

func parseTwo(a, m string) (*bn.Int, *bn.Int, error) {
	x, err := parseOperand("a", a)
	if err != nil {
		return nil, nil, err
	}
	y, err := parseOperand("m", m)
	if err != nil {
		return nil, nil, err
	}
	return x, y, nil
}

func parseOperands(a, e, m string) (*bn.Int, *bn.Int, *bn.Int, error) {
	x, y, err := parseTwo(a, m)
	if err != nil {
		return nil, nil, nil, err
	}
	p, err := parseOperand("e", e)
	if err != nil {
		return nil, nil, nil, err
	}
	return x, p, y, nil
}
