// Package keytoken derives storage-safe name fragments for one merge run.
//
// Tokens are content-addressed: SHA-256 over a purpose domain, the run salt
// and the content, hex encoded and truncated to TokenLength characters. The
// purpose is hashed together with the content, so a lookup-key token and a
// field-alias token derived from the same raw string never collide.
package keytoken

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/roach88/docmerge/internal/canon"
)

// Purpose is a domain separator for token derivation.
// Version suffix enables future algorithm migration.
type Purpose string

const (
	PurposeLookupKey     Purpose = "docmerge/lookup-key/v1"
	PurposeSourceKey     Purpose = "docmerge/source-key/v1"
	PurposeFieldAlias    Purpose = "docmerge/field-alias/v1"
	PurposeLookupStaging Purpose = "docmerge/lookup-staging/v1"
	PurposeSourceStaging Purpose = "docmerge/source-staging/v1"
	PurposeRunSalt       Purpose = "docmerge/run-salt/v1"
	PurposeMissingKey    Purpose = "docmerge/missing-key/v1"
)

// TokenLength is the number of hex characters in a token (128 bits).
const TokenLength = 32

// Token computes the token for content under purpose and salt.
// Format: hex(SHA256(purpose + 0x00 + salt + 0x00 + content))[:TokenLength]
//
// Neither purpose nor salt may contain a null byte, which keeps the
// boundaries unambiguous; content is last and may contain anything.
func Token(purpose Purpose, content, salt string) string {
	h := sha256.New()
	h.Write([]byte(purpose))
	h.Write([]byte{0x00})
	h.Write([]byte(salt))
	h.Write([]byte{0x00})
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))[:TokenLength]
}

// ExpressionKey returns the canonical serialization of a lookup-key
// expression. Two expressions share a join key exactly when their keys match.
//
// A plain string is a field reference; "code" and "$code" name the same field.
func ExpressionKey(expr any) (string, error) {
	if s, ok := expr.(string); ok {
		expr = FieldRef(s)
	}
	b, err := canon.Marshal(expr)
	if err != nil {
		return "", fmt.Errorf("ExpressionKey: %w", err)
	}
	return string(b), nil
}

// FieldRef returns the aggregation field-path form of name.
func FieldRef(name string) string {
	if strings.HasPrefix(name, "$") {
		return name
	}
	return "$" + name
}

// LookupKeyToken names the synthesized join-key field in the lookup staging
// collection for one distinct expression.
func (rc RunContext) LookupKeyToken(exprKey string) string {
	return Token(PurposeLookupKey, exprKey, rc.Salt)
}

// SourceKeyToken names the joined array field produced for one distinct
// (sourceKey, expression) pair.
func (rc RunContext) SourceKeyToken(sourceKey, exprKey string) string {
	return Token(PurposeSourceKey, sourceKey+"\x00"+exprKey, rc.Salt)
}

// MissingKeyToken is the join-key value stored for lookup documents whose
// key expression is null or missing. It never equals a source key, so such
// documents match nothing.
func (rc RunContext) MissingKeyToken() string {
	return Token(PurposeMissingKey, "", rc.Salt)
}

// FieldAliasToken names the temporary output field for a logical field.
func (rc RunContext) FieldAliasToken(field string) string {
	return Token(PurposeFieldAlias, field, rc.Salt)
}
