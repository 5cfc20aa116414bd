package handshake

import (
	"crypto/subtle"
	"io"
	"sync"

	"github.com/sara-star-quant/quantum-tls/internal/constants"
	qerrors "github.com/sara-star-quant/quantum-tls/internal/errors"
	"github.com/sara-star-quant/quantum-tls/pkg/crypto"
)

// MaxTicketSessionSize is the largest serialized session that fits in a
// ticket once the key name, nonce and tag are added.
const MaxTicketSessionSize = 0xffff - constants.TicketOverhead

// ticketKey is one named ticket sealing key.
type ticketKey struct {
	name [constants.TicketKeyNameSize]byte
	aead *crypto.AEAD
}

func newTicketKey(alg crypto.AEADAlgorithm, material []byte) (*ticketKey, error) {
	if len(material) != constants.TicketKeyNameSize+constants.TicketAEADKeySize {
		return nil, qerrors.ErrInvalidKeySize
	}
	aead, err := crypto.NewAEAD(alg, material[constants.TicketKeyNameSize:])
	if err != nil {
		return nil, err
	}
	k := &ticketKey{aead: aead}
	copy(k.name[:], material[:constants.TicketKeyNameSize])
	return k, nil
}

// TicketKeys seals and opens session tickets. It holds a current key used
// for new tickets and the previous key, which still opens tickets issued
// before the last rotation. TicketKeys is safe for concurrent use.
//
// Ticket layout:
//
//	key_name[16] || nonce[12] || AEAD(session) || tag[16]
//
// The key name is authenticated as additional data.
type TicketKeys struct {
	mu       sync.RWMutex
	alg      crypto.AEADAlgorithm
	current  *ticketKey
	previous *ticketKey
}

// NewTicketKeys creates keys with a random name and key read from r.
func NewTicketKeys(r io.Reader, alg crypto.AEADAlgorithm) (*TicketKeys, error) {
	tk := &TicketKeys{alg: alg}
	if err := tk.Rotate(r); err != nil {
		return nil, err
	}
	return tk, nil
}

// TicketKeysFromSeed derives the key name and key from an operator seed with
// SHAKE-256, so that several servers can share tickets.
func TicketKeysFromSeed(seed []byte, alg crypto.AEADAlgorithm) (*TicketKeys, error) {
	tk := &TicketKeys{alg: alg}
	if err := tk.RotateSeed(seed); err != nil {
		return nil, err
	}
	return tk, nil
}

// Rotate installs a fresh random key and demotes the current one.
func (tk *TicketKeys) Rotate(r io.Reader) error {
	material := make([]byte, constants.TicketKeyNameSize+constants.TicketAEADKeySize)
	defer crypto.Zeroize(material)
	if err := crypto.ReadRandom(r, material); err != nil {
		return err
	}
	return tk.install(material)
}

// RotateSeed installs a key derived from seed and demotes the current one.
func (tk *TicketKeys) RotateSeed(seed []byte) error {
	if len(seed) < constants.TicketAEADKeySize {
		return qerrors.ErrInvalidKeySize
	}
	material, err := crypto.DeriveKey(constants.DomainSeparatorTicket, seed,
		constants.TicketKeyNameSize+constants.TicketAEADKeySize)
	if err != nil {
		return err
	}
	defer crypto.Zeroize(material)
	return tk.install(material)
}

func (tk *TicketKeys) install(material []byte) error {
	k, err := newTicketKey(tk.alg, material)
	if err != nil {
		return err
	}
	tk.mu.Lock()
	defer tk.mu.Unlock()
	tk.previous = tk.current
	tk.current = k
	return nil
}

// CurrentName returns the name of the key sealing new tickets.
func (tk *TicketKeys) CurrentName() []byte {
	tk.mu.RLock()
	defer tk.mu.RUnlock()
	return append([]byte(nil), tk.current.name[:]...)
}

// Seal encrypts a serialized session. Sessions larger than
// MaxTicketSessionSize fail with ErrMessageTooLarge.
func (tk *TicketKeys) Seal(r io.Reader, session []byte) ([]byte, error) {
	if len(session) > MaxTicketSessionSize {
		return nil, qerrors.ErrMessageTooLarge
	}
	tk.mu.RLock()
	k := tk.current
	tk.mu.RUnlock()

	sealed, err := k.aead.Seal(r, session, k.name[:])
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, constants.TicketKeyNameSize+len(sealed))
	out = append(out, k.name[:]...)
	return append(out, sealed...), nil
}

// Open decrypts a ticket. renew is set when the ticket was sealed with the
// previous key and should be replaced.
func (tk *TicketKeys) Open(ticket []byte) (session []byte, renew bool, err error) {
	if len(ticket) < constants.TicketOverhead {
		return nil, false, qerrors.ErrInvalidTicket
	}
	tk.mu.RLock()
	current, previous := tk.current, tk.previous
	tk.mu.RUnlock()

	name := ticket[:constants.TicketKeyNameSize]
	var k *ticketKey
	switch {
	case subtle.ConstantTimeCompare(name, current.name[:]) == 1:
		k = current
	case previous != nil && subtle.ConstantTimeCompare(name, previous.name[:]) == 1:
		k, renew = previous, true
	default:
		return nil, false, qerrors.ErrInvalidTicket
	}
	session, err = k.aead.Open(ticket[constants.TicketKeyNameSize:], name)
	if err != nil {
		return nil, false, qerrors.ErrInvalidTicket
	}
	return session, renew, nil
}
