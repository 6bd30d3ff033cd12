// Package keys derives cache keys and anonymized user tags.
//
// Keys are plain "<namespace>:<payload>" strings. Search keys interpolate the
// query text and the limit without escaping, so a query that itself ends in
// "-<digits>" can collide with a different (query, limit) pair. That is a known
// weakness of the format and is not guarded against.
package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Namespaces used as key prefixes.
const (
	NamespaceSearch     = "search"
	NamespaceToken      = "token"
	NamespaceSuggestion = "suggestion"
)

// Search returns the memoization key for a phase-one query.
func Search(query string, limit int) string {
	return NamespaceSearch + ":" + query + "-" + strconv.Itoa(limit)
}

// Token returns the redemption key for a suggestion token.
func Token(token string) string {
	return NamespaceToken + ":" + token
}

// Suggestion returns the key reserved for generated suggestions.
// Nothing writes under it yet.
func Suggestion(token string) string {
	return NamespaceSuggestion + ":" + token
}

// Namespace returns the prefix of key, or "" if key has none.
func Namespace(key string) string {
	ns, _, ok := strings.Cut(key, ":")
	if !ok {
		return ""
	}
	return ns
}

// Anonymize hashes a user identifier before it is sent to an external
// service. The result is the lowercase hex SHA-256 digest.
func Anonymize(identifier string) string {
	sum := sha256.Sum256([]byte(identifier))
	return hex.EncodeToString(sum[:])
}
