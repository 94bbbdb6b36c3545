package meta

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  João ", "joao"},
		{"São Paulo", "sao paulo"},
		{"CONCEIÇÃO", "conceicao"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeText(tt.in), tt.in)
	}
}

func TestNormalizeEmailAndPhone(t *testing.T) {
	assert.Equal(t, "maria@example.com", NormalizeEmail("  Maria@Example.COM "))
	assert.Equal(t, "11912345678", NormalizePhone("(11) 91234-5678"))
	assert.Equal(t, "", NormalizePhone("abc"))
}

func TestSplitFullName(t *testing.T) {
	first, last := SplitFullName("João da Silva Santos")
	assert.Equal(t, "João", first)
	assert.Equal(t, "da Silva Santos", last)

	first, last = SplitFullName("  Maria  ")
	assert.Equal(t, "Maria", first)
	assert.Empty(t, last)

	first, last = SplitFullName("")
	assert.Empty(t, first)
	assert.Empty(t, last)
}

func TestHash_PassesThroughDigests(t *testing.T) {
	digest := HashSHA256("maria@example.com")
	assert.True(t, IsHashed(digest))
	assert.False(t, IsHashed("maria@example.com"))

	u := UserInfo{Email: digest, Phone: "(11) 91234-5678"}.Hash()
	assert.Equal(t, digest, u.Em)
	assert.Equal(t, HashSHA256("11912345678"), u.Ph)
}

func TestUserInfoHash(t *testing.T) {
	u := UserInfo{
		Email:     " Maria@Example.com",
		FirstName: "Márcia",
		LastName:  "Conceição",
		City:      "São Paulo",
		State:     "SP",
		FBP:       "fb.1.123",
		ClientIP:  "203.0.113.7",
		UserAgent: "Mozilla/5.0",
	}.Hash()

	assert.Equal(t, HashSHA256("maria@example.com"), u.Em)
	assert.Equal(t, HashSHA256("marcia"), u.Fn)
	assert.Equal(t, HashSHA256("conceicao"), u.Ln)
	assert.Equal(t, HashSHA256("sao paulo"), u.Ct)
	assert.Equal(t, HashSHA256("sp"), u.St)
	assert.Equal(t, HashSHA256("br"), u.Country, "country defaults to br")
	assert.Equal(t, u.Em, u.ExternalID, "external id falls back to the email")
	assert.Equal(t, "fb.1.123", u.FBP)
	assert.Equal(t, "203.0.113.7", u.ClientIP)
	assert.Equal(t, "Mozilla/5.0", u.UserAgent)
	assert.Empty(t, u.Ph)
}
