package middleware

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMaskEmail(t *testing.T) {
	require.Equal(t, "j***@example.com", maskEmail("jdoe@example.com"))
	require.Equal(t, "not-an-email", maskEmail("not-an-email"))
}

func TestMaskPhone(t *testing.T) {
	require.Equal(t, "********4567", maskPhone("+15551234567"))
	require.Equal(t, "123", maskPhone("123"))
}

func TestTruncateToYear(t *testing.T) {
	require.Equal(t, "1990", truncateToYear("1990-04-12T00:00:00Z"))
	require.Equal(t, "90", truncateToYear("90"))
}
