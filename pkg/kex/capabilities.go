package kex

import (
	"slices"

	"golang.org/x/crypto/cryptobyte"

	"github.com/sara-star-quant/quantum-tls/internal/constants"
	qerrors "github.com/sara-star-quant/quantum-tls/internal/errors"
	"github.com/sara-star-quant/quantum-tls/pkg/crypto"
)

// Capabilities is the set of key exchanges a connection may negotiate.
// Configure it before the first handshake; afterwards it is read-only and
// may be shared between connections.
type Capabilities struct {
	kinds  map[Kind]bool
	groups []uint16
	dh     *DHParams
}

// NewCapabilities returns an empty set.
func NewCapabilities() *Capabilities {
	return &Capabilities{kinds: make(map[Kind]bool)}
}

// DefaultCapabilities enables every kind, the groups X25519, P-256 and P-384
// in that preference order, and the ffdhe2048 group for DHE suites. A
// client accepts any valid DH group from the server.
func DefaultCapabilities() *Capabilities {
	c := NewCapabilities()
	for _, k := range []Kind{KindECDHE, KindDHE, KindPSK, KindHybrid} {
		c.kinds[k] = true
	}
	c.groups = []uint16{constants.GroupX25519, constants.GroupP256, constants.GroupP384}
	c.dh = FFDHE2048()
	return c
}

// Clone returns an independent copy.
func (c *Capabilities) Clone() *Capabilities {
	n := NewCapabilities()
	for k, v := range c.kinds {
		n.kinds[k] = v
	}
	n.groups = slices.Clone(c.groups)
	n.dh = c.dh
	return n
}

// Enable turns kinds on.
func (c *Capabilities) Enable(kinds ...Kind) *Capabilities {
	for _, k := range kinds {
		c.kinds[k] = true
	}
	return c
}

// Disable turns kinds off.
func (c *Capabilities) Disable(kinds ...Kind) *Capabilities {
	for _, k := range kinds {
		delete(c.kinds, k)
	}
	return c
}

// Enabled reports whether kind may be negotiated.
func (c *Capabilities) Enabled(kind Kind) bool { return c.kinds[kind] }

// SetGroups replaces the ECDHE groups in preference order.
func (c *Capabilities) SetGroups(groups ...uint16) error {
	for _, g := range groups {
		if _, err := crypto.CurveForGroup(g); err != nil {
			return err
		}
	}
	c.groups = slices.Clone(groups)
	return nil
}

// Groups returns the ECDHE groups in preference order.
func (c *Capabilities) Groups() []uint16 { return slices.Clone(c.groups) }

// AdvertisedGroups returns the supported_groups extension contents: the
// hybrid group first when enabled, then the ECDHE groups.
func (c *Capabilities) AdvertisedGroups() []uint16 {
	var out []uint16
	if c.Enabled(KindHybrid) {
		out = append(out, constants.GroupX25519MLKEM768)
	}
	if c.Enabled(KindECDHE) {
		out = append(out, c.groups...)
	}
	return out
}

// SupportsGroup reports whether group is an enabled ECDHE group.
func (c *Capabilities) SupportsGroup(group uint16) bool {
	return c.Enabled(KindECDHE) && slices.Contains(c.groups, group)
}

// SetDHParams sets the group a server offers in DHE suites.
func (c *Capabilities) SetDHParams(p *DHParams) error {
	if p != nil {
		if err := CheckDHParams(p.P, p.G); err != nil {
			return err
		}
	}
	c.dh = p
	return nil
}

// DHParams returns the server DHE group, or nil.
func (c *Capabilities) DHParams() *DHParams { return c.dh }

// SelectGroup picks the first of our ECDHE groups that the peer listed. An
// empty peer list means the peer did not send supported_groups, in which
// case our first group is used.
func (c *Capabilities) SelectGroup(peer []uint16) (uint16, bool) {
	if !c.Enabled(KindECDHE) || len(c.groups) == 0 {
		return 0, false
	}
	if len(peer) == 0 {
		return c.groups[0], true
	}
	for _, g := range c.groups {
		if slices.Contains(peer, g) {
			return g, true
		}
	}
	return 0, false
}

// New creates an exchange of kind on group. Use GroupExplicit for DHE and
// PSK. Kinds or groups that are not enabled fail with illegal_parameter,
// which is the alert a client sends when the server picks one.
func (c *Capabilities) New(kind Kind, group uint16) (KeyExchange, error) {
	if !c.Enabled(kind) {
		return nil, illegalParameter(qerrors.ErrUnsupportedGroup)
	}
	switch kind {
	case KindDHE:
		if group != GroupExplicit {
			return nil, illegalParameter(qerrors.ErrUnsupportedGroup)
		}
		return NewDHE(c.dh), nil
	case KindECDHE:
		if !c.SupportsGroup(group) {
			return nil, illegalParameter(qerrors.ErrUnsupportedGroup)
		}
		return NewECDHE(group)
	case KindHybrid:
		if group != constants.GroupX25519MLKEM768 {
			return nil, illegalParameter(qerrors.ErrUnsupportedGroup)
		}
		return NewHybrid(), nil
	case KindPSK:
		return NewPSK(0), nil
	}
	return nil, illegalParameter(qerrors.ErrUnsupportedGroup)
}

// ReadOffer reads the key-exchange parameters of kind from the front of a
// ServerKeyExchange body, leaving s at the signature. It returns the named
// group (GroupExplicit for DHE and PSK) and the raw parameter bytes, which
// are both the input to Accept and the signed data.
func ReadOffer(kind Kind, s *cryptobyte.String) (group uint16, params []byte, ok bool) {
	start := *s
	var v cryptobyte.String
	switch kind {
	case KindDHE:
		for range 3 {
			if !s.ReadUint16LengthPrefixed(&v) || v.Empty() {
				return 0, nil, false
			}
		}
	case KindECDHE:
		var curveType uint8
		if !s.ReadUint8(&curveType) || curveType != constants.CurveTypeNamed ||
			!s.ReadUint16(&group) || !s.ReadUint8LengthPrefixed(&v) || v.Empty() {
			return 0, nil, false
		}
	case KindHybrid:
		if !s.ReadUint16LengthPrefixed(&v) {
			return 0, nil, false
		}
		group = constants.GroupX25519MLKEM768
	case KindPSK:
		return GroupExplicit, nil, true
	default:
		return 0, nil, false
	}
	return group, start[:len(start)-len(*s)], true
}
