package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprintNormalizes(t *testing.T) {
	a := Fingerprint("The Krebs Cycle produces ATP.")
	b := Fingerprint("the  krebs   cycle\nproduces ATP.")
	assert.Equal(t, a, b)

	c := Fingerprint("The Krebs Cycle produces NADH.")
	assert.NotEqual(t, a, c)
}

func TestFingerprintStable(t *testing.T) {
	assert.Equal(t, Fingerprint("alpha beta"), Fingerprint("alpha beta"))
	assert.Len(t, Fingerprint("alpha beta"), 64)
}
