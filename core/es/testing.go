package es

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// === Helpers ===

type TestingEnv struct {
	*Env
	t *testing.T
}

// StartTestEnv starts an environment backed by an in-memory store and shuts
// it down when the test ends.
func StartTestEnv(t *testing.T, opts ...EnvOption) *TestingEnv {
	e, err := NewEnv(
		WithStore(NewInMemoryStore()),
		WithEnvOpts(opts...),
	)
	require.NoError(t, err)
	t.Cleanup(e.Shutdown)
	return &TestingEnv{t: t, Env: e}
}

// RegisterTest registers def and fails the test on error.
func RegisterTest[S any](te *TestingEnv, def Definition[S]) *Entity[S] {
	e, err := Register(te.Env, def)
	require.NoError(te.t, err)
	return e
}

// StartTestHost registers def and returns a host closed at the end of the test.
func StartTestHost[S any](te *TestingEnv, def Definition[S], opts ...HostOption) *Host[S] {
	h := NewHost(RegisterTest(te, def), opts...)
	te.t.Cleanup(h.Close)
	return h
}

// RequireOk fails the test unless r succeeded.
func RequireOk(t testing.TB, r OperationResult) {
	t.Helper()
	require.Truef(t, r.Success, "expected success, got %s", r)
}

// RequireFailure fails the test unless r failed with code.
func RequireFailure(t testing.TB, r OperationResult, code string) {
	t.Helper()
	require.Falsef(t, r.Success, "expected failure %s, got success", code)
	require.Equal(t, code, r.ErrorCode, r.ErrorMessage)
}
