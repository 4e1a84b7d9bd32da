package instance

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetIDPrefersEnv(t *testing.T) {
	t.Setenv(EnvInstanceID, " builder-7 ")
	assert.Equal(t, "builder-7", GetID())
}

func TestGetIDFallsBack(t *testing.T) {
	t.Setenv(EnvInstanceID, "")
	assert.NotEmpty(t, GetID())
}
