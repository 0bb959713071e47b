package line

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateSignature(t *testing.T) {
	secret := "channel-secret"
	body := []byte(`{"events":[]}`)

	assert.True(t, ValidateSignature(secret, body, Sign(secret, body)))
}

func TestValidateSignature_Mismatch(t *testing.T) {
	secret := "channel-secret"
	body := []byte(`{"events":[]}`)

	assert.False(t, ValidateSignature(secret, body, Sign("other-secret", body)))
	assert.False(t, ValidateSignature(secret, []byte(`tampered`), Sign(secret, body)))
}

func TestValidateSignature_MalformedInput(t *testing.T) {
	body := []byte(`{"events":[]}`)

	assert.False(t, ValidateSignature("secret", body, "not-base64!!!"))
	assert.False(t, ValidateSignature("secret", body, ""))
	assert.False(t, ValidateSignature("", body, Sign("", body)))
}
