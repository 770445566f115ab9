package mock

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gillisandrew/regverify/internal/domain"
	"github.com/gillisandrew/regverify/internal/state"
)

func readID(t *testing.T, a *Agent) string {
	t.Helper()
	data, err := os.ReadFile(a.Paths().MachineID)
	require.NoError(t, err)
	return string(data)
}

func TestAgentStableVersionKeepsMachineID(t *testing.T) {
	ctx := context.Background()
	a := NewAgent(t.TempDir(), "3.3.13-1")

	_, err := a.Register(ctx)
	require.NoError(t, err)
	first := readID(t, a)

	_, err = a.Unregister(ctx)
	require.NoError(t, err)
	_, err = a.Register(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, readID(t, a))
}

func TestAgentLegacyVersionRotatesMachineID(t *testing.T) {
	ctx := context.Background()
	a := NewAgent(t.TempDir(), "3.2.8")

	_, err := a.Register(ctx)
	require.NoError(t, err)
	first := readID(t, a)

	_, err = a.Unregister(ctx)
	require.NoError(t, err)
	_, err = a.Register(ctx)
	require.NoError(t, err)

	assert.NotEqual(t, first, readID(t, a))
}

func TestAgentBasicAuthRequiresCredentials(t *testing.T) {
	ctx := context.Background()
	a := NewAgent(t.TempDir(), "3.4.0")

	cfg, err := a.Config()
	require.NoError(t, err)
	cfg.SetAuthMethod(domain.AuthMethodBasic)
	require.NoError(t, cfg.Save())

	_, err = a.Register(ctx)
	require.Error(t, err)

	cfg.SetCredentials(Credentials())
	require.NoError(t, cfg.Save())
	_, err = a.Register(ctx)
	require.NoError(t, err)
}

func TestAgentUnsavedConfigIsIgnored(t *testing.T) {
	a := NewAgent(t.TempDir(), "3.4.0")

	cfg, err := a.Config()
	require.NoError(t, err)
	cfg.SetAuthMethod(domain.AuthMethodBasic)

	fresh, err := a.Config()
	require.NoError(t, err)
	assert.Equal(t, domain.AuthMethodCert, fresh.AuthMethod())
}

func TestAgentSentinels(t *testing.T) {
	ctx := context.Background()
	a := NewAgent(t.TempDir(), "3.4.0")
	observer := state.NewObserver(a.Paths())

	_, err := a.Register(ctx)
	require.NoError(t, err)
	snap, err := observer.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, state.ActionRegister, snap.LastAction())

	_, err = a.Unregister(ctx)
	require.NoError(t, err)
	snap, err = observer.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, state.ActionUnregister, snap.LastAction())
	assert.False(t, snap.IsRegistered())
}

func TestAgentDoubleRegister(t *testing.T) {
	ctx := context.Background()
	a := NewAgent(t.TempDir(), "3.4.0")

	_, err := a.Register(ctx)
	require.NoError(t, err)
	res, err := a.Run(ctx, false, "--register")
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Stdout, domain.MessageAlreadyRegistered)
}

func TestAgentTeardownResets(t *testing.T) {
	ctx := context.Background()
	a := NewAgent(t.TempDir(), "3.4.0")

	cfg, err := a.Config()
	require.NoError(t, err)
	cfg.SetAuthMethod(domain.AuthMethodBasic)
	cfg.SetCredentials(Credentials())
	require.NoError(t, cfg.Save())
	_, err = a.Register(ctx)
	require.NoError(t, err)

	require.NoError(t, a.Teardown(ctx))

	registered, err := a.IsRegistered(ctx)
	require.NoError(t, err)
	assert.False(t, registered)

	cfg, err = a.Config()
	require.NoError(t, err)
	assert.Equal(t, domain.AuthMethodCert, cfg.AuthMethod())
}
