package pipeline

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintKnownValues(t *testing.T) {
	assert.Equal(t, "d41d8cd9-8f00-b204-e980-0998ecf8427e", Fingerprint(""))
	assert.Equal(t, "5d41402a-bc4b-2a76-b971-9d911017c592", Fingerprint("hello"))
}

func TestFingerprintStableAndDistinct(t *testing.T) {
	a := Fingerprint("Semesteransökan lämnas till närmaste chef.")
	b := Fingerprint("Semesteransökan lämnas till närmaste chef.")
	c := Fingerprint("Semesteransökan lämnas till närmaste chef!")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	_, err := uuid.Parse(a)
	require.NoError(t, err)
}
