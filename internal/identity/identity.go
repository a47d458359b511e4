// Package identity implements the address and signature scheme for
// replicated documents. Identities and shares are ed25519 keypairs; the
// public key is embedded in the address itself, so a document can be
// verified from its own fields alone.
package identity

import (
	"crypto/ed25519"
	"encoding/base32"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/openchw/meshdoc/pkg/model"
)

// Address sigils. Authors carry "@", shares carry "+".
const (
	AuthorSigil = "@"
	ShareSigil  = "+"
)

var (
	ErrBadAddress = errors.New("malformed address")
	ErrBadSecret  = errors.New("malformed secret")
)

// Lowercase unpadded base32 with a leading "b" tag, matching the address
// grammar of the wire format.
var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

func encodeKeyPart(raw []byte) string {
	return "b" + strings.ToLower(b32.EncodeToString(raw))
}

func decodeKeyPart(s string) ([]byte, error) {
	if len(s) < 2 || s[0] != 'b' {
		return nil, ErrBadAddress
	}
	return b32.DecodeString(strings.ToUpper(s[1:]))
}

// Keypair is a named ed25519 identity able to sign documents. The same
// shape serves both authors and shares; only the sigil differs.
type Keypair struct {
	Address string
	secret  ed25519.PrivateKey
}

// New generates a keypair. The name is a short human tag; the address
// embeds the public key after it.
func New(sigil, name string) (Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return Keypair{}, err
	}
	return Keypair{
		Address: sigil + name + "." + encodeKeyPart(pub),
		secret:  priv,
	}, nil
}

// FromSecret reconstructs a keypair from an address and its secret. The
// derived public key must match the one embedded in the address.
func FromSecret(address, secret string) (Keypair, error) {
	pub, err := PublicKey(address)
	if err != nil {
		return Keypair{}, err
	}
	seed, err := decodeKeyPart(secret)
	if err != nil || len(seed) != ed25519.SeedSize {
		return Keypair{}, ErrBadSecret
	}
	priv := ed25519.NewKeyFromSeed(seed)
	if !pub.Equal(priv.Public().(ed25519.PublicKey)) {
		return Keypair{}, fmt.Errorf("%w: secret does not match address", ErrBadSecret)
	}
	return Keypair{Address: address, secret: priv}, nil
}

// Secret returns the encoded seed for storage in configuration.
func (k Keypair) Secret() string {
	return encodeKeyPart(k.secret.Seed())
}

// PublicKey extracts the ed25519 public key embedded in an address.
func PublicKey(address string) (ed25519.PublicKey, error) {
	if address == "" || (address[0] != '@' && address[0] != '+') {
		return nil, ErrBadAddress
	}
	dot := strings.LastIndex(address, ".")
	if dot < 0 {
		return nil, ErrBadAddress
	}
	raw, err := decodeKeyPart(address[dot+1:])
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil, ErrBadAddress
	}
	return ed25519.PublicKey(raw), nil
}

// signingInput is the byte string bound by both document signatures.
func signingInput(doc model.Document) []byte {
	return []byte(doc.Author + doc.Path + strconv.FormatInt(doc.Timestamp, 10) + doc.TextHash)
}

// SignDocument produces the author or share signature over the document's
// identity fields.
func (k Keypair) SignDocument(doc model.Document) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(k.secret, signingInput(doc)))
}

// VerifyDocument checks both signatures and the content hash. The claimed
// signer's public material comes from the author and share addresses.
func VerifyDocument(doc model.Document) bool {
	if model.HashText(doc.Text) != doc.TextHash {
		return false
	}
	if !verifyAgainst(doc.Author, doc.Signature, doc) {
		return false
	}
	return verifyAgainst(doc.Share, doc.ShareSignature, doc)
}

func verifyAgainst(address, signature string, doc model.Document) bool {
	pub, err := PublicKey(address)
	if err != nil {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, signingInput(doc), sig)
}
