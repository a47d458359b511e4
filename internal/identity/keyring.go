package identity

import (
	"fmt"
	"sort"
)

// Keyring holds the local worker identity plus the share keys this
// replica participates in, indexed by share name and by address.
type Keyring struct {
	Author    Keypair
	byName    map[string]Keypair
	byAddress map[string]Keypair
}

// NewKeyring builds a keyring around the given author identity.
func NewKeyring(author Keypair) *Keyring {
	return &Keyring{
		Author:    author,
		byName:    make(map[string]Keypair),
		byAddress: make(map[string]Keypair),
	}
}

// AddShare registers a share keypair under a short name.
func (r *Keyring) AddShare(name string, share Keypair) {
	r.byName[name] = share
	r.byAddress[share.Address] = share
}

// Share looks up a share keypair by its short name.
func (r *Keyring) Share(name string) (Keypair, error) {
	kp, ok := r.byName[name]
	if !ok {
		return Keypair{}, fmt.Errorf("unknown share %q", name)
	}
	return kp, nil
}

// ShareByAddress looks up a share keypair by its full address.
func (r *Keyring) ShareByAddress(address string) (Keypair, error) {
	kp, ok := r.byAddress[address]
	if !ok {
		return Keypair{}, fmt.Errorf("no key for share %q", address)
	}
	return kp, nil
}

// ShareNames lists the registered share names, sorted for determinism.
func (r *Keyring) ShareNames() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
