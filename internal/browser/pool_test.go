package browser

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigPoolSize(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, 3, cfg.poolSize())
}

func TestPoolSizeFallsBackWhenUnset(t *testing.T) {
	cfg := Config{}
	require.Equal(t, 3, cfg.poolSize())
}

func TestClassifyNavErrorDNS(t *testing.T) {
	err := classifyNavError("https://example.com", errors.New("net::ERR_NAME_NOT_RESOLVED"))
	require.Equal(t, NavErrDNS, err.Kind)
}

func TestClassifyNavErrorTLS(t *testing.T) {
	err := classifyNavError("https://example.com", errors.New("x509: certificate signed by unknown authority"))
	require.Equal(t, NavErrTLS, err.Kind)
}

func TestClassifyNavErrorTimeout(t *testing.T) {
	err := classifyNavError("https://example.com", errors.New("context deadline exceeded"))
	require.Equal(t, NavErrTimeout, err.Kind)
}

func TestClassifyNavErrorDefaultsToRenderFailure(t *testing.T) {
	err := classifyNavError("https://example.com", errors.New("something unexpected"))
	require.Equal(t, NavErrRenderFailure, err.Kind)
}

func TestNavigationErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := &NavigationError{Kind: NavErrTimeout, URL: "u", Err: inner}
	require.ErrorIs(t, err, inner)
}

func TestNavigationTimeoutDefault(t *testing.T) {
	cfg := Config{}
	require.Equal(t, 30, int(cfg.NavigationTimeout().Seconds()))
}
