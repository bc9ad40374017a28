package pseudonym_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sign-gateway/internal/pseudonym"
)

func TestPseudonymizeDeterministic(t *testing.T) {
	svc, err := pseudonym.NewService([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	a, err := svc.Pseudonymize("customer-42")
	require.NoError(t, err)
	b, err := svc.Pseudonymize("customer-42")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.Regexp(t, `^[0-9a-f]{64}$`, a)

	other, err := svc.Pseudonymize("customer-43")
	require.NoError(t, err)
	assert.NotEqual(t, a, other)
}

func TestPseudonymDependsOnKey(t *testing.T) {
	svc1, err := pseudonym.NewService([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	svc2, err := pseudonym.NewService([]byte("fedcba9876543210fedcba9876543210"))
	require.NoError(t, err)

	a, err := svc1.Pseudonymize("customer-42")
	require.NoError(t, err)
	b, err := svc2.Pseudonymize("customer-42")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestVerify(t *testing.T) {
	svc, err := pseudonym.NewService([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	p, err := svc.Pseudonymize("customer-42")
	require.NoError(t, err)

	ok, err := svc.Verify("customer-42", p)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.Verify("customer-43", p)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRejectsWeakKey(t *testing.T) {
	_, err := pseudonym.NewService([]byte("short"))
	assert.Error(t, err)
}

func TestRejectsEmptyCustomerID(t *testing.T) {
	svc, err := pseudonym.NewService([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	_, err = svc.Pseudonymize("")
	assert.Error(t, err)
}
