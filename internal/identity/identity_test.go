package identity

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasRole(t *testing.T) {
	user := &UserInfo{
		UserID:   "u-1",
		Username: "admin",
		Roles:    []string{"admin", "operator"},
	}

	assert.True(t, user.HasRole("admin"))
	assert.True(t, user.HasRole("operator"))
	assert.False(t, user.HasRole("viewer"))
	assert.False(t, (&UserInfo{}).HasRole("admin"))
}

func TestClone(t *testing.T) {
	user := &UserInfo{
		UserID:   "u-1",
		Username: "admin",
		Email:    "admin@example.com",
		Roles:    []string{"admin"},
		AdditionalClaims: map[string]string{
			"tenant": "acme",
		},
	}

	clone := user.Clone()
	assert.Equal(t, user, clone)

	clone.Roles[0] = "viewer"
	clone.AdditionalClaims["tenant"] = "other"
	assert.Equal(t, "admin", user.Roles[0])
	assert.Equal(t, "acme", user.AdditionalClaims["tenant"])

	var nilUser *UserInfo
	assert.Nil(t, nilUser.Clone())
}

func TestJSONShape(t *testing.T) {
	raw, err := json.Marshal(&UserInfo{UserID: "u-1", Username: "admin"})
	assert.NoError(t, err)
	assert.Contains(t, string(raw), `"userId":"u-1"`)
	assert.Contains(t, string(raw), `"username":"admin"`)
}
