package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueHashDeterminism(t *testing.T) {
	v := IRObject{
		"kind":  IRString("int"),
		"value": IRString("42"),
	}

	payload1, hash1, err := ValueHash(v)
	require.NoError(t, err)
	payload2, hash2, err := ValueHash(v)
	require.NoError(t, err)

	assert.Equal(t, hash1, hash2, "ValueHash must be deterministic")
	assert.Equal(t, payload1, payload2)
	assert.Len(t, hash1, 64, "SHA-256 hex is 64 characters")
	assert.Equal(t, hash1, PayloadHash(payload1))
}

func TestValueHashKeyOrderIndependent(t *testing.T) {
	a := IRObject{"zebra": IRInt(1), "alpha": IRInt(2)}
	b := IRObject{"alpha": IRInt(2), "zebra": IRInt(1)}

	assert.Equal(t, MustValueHash(a), MustValueHash(b))
}

func TestValueHashChangesWithContent(t *testing.T) {
	a := IRObject{"kind": IRString("int"), "value": IRString("1")}
	b := IRObject{"kind": IRString("int"), "value": IRString("2")}

	assert.NotEqual(t, MustValueHash(a), MustValueHash(b))
}

func TestDomainSeparationPreventsCrossTypeCollision(t *testing.T) {
	data := []byte(`{"id":"test"}`)

	assert.NotEqual(t, hashWithDomain(DomainValue, data), hashWithDomain(DomainChain, data))
}

func TestHashWithDomainNullSeparator(t *testing.T) {
	// "foo" + 0x00 + "bar" != "foob" + 0x00 + "ar"
	assert.NotEqual(t, hashWithDomain("foo", []byte("bar")), hashWithDomain("foob", []byte("ar")))
}

func TestChainFingerprint(t *testing.T) {
	chain := IRObject{"nodes": IRArray{IRString("a"), IRString("b")}}

	fp1, err := ChainFingerprint(chain)
	require.NoError(t, err)
	fp2, err := ChainFingerprint(IRObject{"nodes": IRArray{IRString("b"), IRString("a")}})
	require.NoError(t, err)

	assert.Len(t, fp1, 64)
	assert.NotEqual(t, fp1, fp2, "order of nodes is part of the fingerprint")
}

func TestMustValueHashPanicsOnInvalid(t *testing.T) {
	assert.Panics(t, func() {
		MustValueHash(IRString("\xff"))
	})
}

func TestNormalizeID(t *testing.T) {
	assert.Equal(t, NormalizeID("café"), NormalizeID("café"))
	assert.Equal(t, "cell-1", NormalizeID("  cell-1 \n"))
}
