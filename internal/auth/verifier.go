package auth

import "strings"

// Verifier turns the credentials presented by a connection into the identity
// the gateway binds it to.
type Verifier struct {
	cfg      *JWTConfig
	required bool
}

// NewVerifier builds a verifier. With required set, an identity is only ever
// derived from a valid token; otherwise a bare claimed identity is accepted.
func NewVerifier(cfg *JWTConfig, required bool) *Verifier {
	return &Verifier{cfg: cfg, required: required}
}

// Required reports whether a token is mandatory.
func (v *Verifier) Required() bool {
	return v.required
}

// Resolve returns the identity for the presented token and claimed user id.
// A token, when present and verifiable, always wins over the claim, and a
// claim that contradicts it is rejected.
func (v *Verifier) Resolve(token, claimed string) (string, error) {
	token = strings.TrimSpace(token)
	claimed = strings.TrimSpace(claimed)

	if token != "" && v.canVerify() {
		claims, err := ValidateToken(v.cfg, token)
		if err != nil {
			return "", err
		}
		if claimed != "" && claimed != claims.Subject {
			return "", ErrIdentityMismatch
		}
		return claims.Subject, nil
	}

	if v.required {
		return "", ErrMissingToken
	}
	if claimed == "" {
		return "", ErrMissingIdentity
	}
	return claimed, nil
}

// Issue mints a token for userID. Used by development tooling.
func (v *Verifier) Issue(userID, name string) (string, error) {
	return GenerateToken(v.cfg, userID, name)
}

func (v *Verifier) canVerify() bool {
	return v.cfg != nil && len(v.cfg.Secret) > 0
}
