package keys

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSearchKey(t *testing.T) {
	assert.Equal(t, "search:golang-10", Search("golang", 10))
	assert.Equal(t, Search("golang", 10), Search("golang", 10))
	assert.NotEqual(t, Search("golang", 10), Search("golang", 11))
	assert.NotEqual(t, Search("golang", 10), Search("rust", 10))
}

func TestTokenAndSuggestionKeys(t *testing.T) {
	assert.Equal(t, "token:abc", Token("abc"))
	assert.Equal(t, "suggestion:abc", Suggestion("abc"))
	assert.NotEqual(t, Token("abc"), Suggestion("abc"))
}

func TestNamespace(t *testing.T) {
	assert.Equal(t, NamespaceSearch, Namespace(Search("a:b", 3)))
	assert.Equal(t, NamespaceToken, Namespace(Token("x")))
	assert.Equal(t, "", Namespace("plain"))
}

func TestAnonymize(t *testing.T) {
	a := Anonymize("alice@example.com")

	assert.Len(t, a, 64)
	assert.Equal(t, a, Anonymize("alice@example.com"))
	assert.NotEqual(t, a, Anonymize("bob@example.com"))
	assert.NotContains(t, a, "alice")
	assert.Equal(t, "5430eeed859cad61d925097ec4f532461ccf1ab6b9802b09a313be1478a4d614", Anonymize("anon"))
}
