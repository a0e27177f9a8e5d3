package auth

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"net/url"
	"sort"
	"strings"
)

// SignatureVersion is sent as sig_version alongside every signed request.
const SignatureVersion = "1"

var (
	ErrNoSecret = errors.New("no api secret")
	ErrBadSig   = errors.New("invalid signature")
)

// Signer computes request signatures for the run API.
type Signer interface {
	Sign(params url.Values, secret string) (string, error)
}

// SignerV1 signs by sorting parameters by name, concatenating name+value,
// appending the secret and taking the lower-case hex md5.
type SignerV1 struct{}

func (SignerV1) Sign(params url.Values, secret string) (string, error) {
	if secret == "" {
		return "", ErrNoSecret
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "sig" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(params.Get(k))
	}
	b.WriteString(secret)
	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:]), nil
}

// Verify checks the sig parameter of params against secret.
func Verify(s Signer, params url.Values, secret string) error {
	want, err := s.Sign(params, secret)
	if err != nil {
		return err
	}
	if params.Get("sig") != want {
		return ErrBadSig
	}
	return nil
}
