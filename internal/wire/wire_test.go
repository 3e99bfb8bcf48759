package wire_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/webitel/sync-engine/internal/wire"
)

func TestEncode_StampsProtocolVersionAndEchoesMsgID(t *testing.T) {
	env, err := wire.Encode(wire.TypeConnect, "m-1", wire.ConnectPayload{Token: "t", ClientID: "c"})
	require.NoError(t, err)
	require.Equal(t, wire.ProtocolVersion, env.ProtocolVersion)
	require.Equal(t, "m-1", env.MsgID)

	var decoded wire.ConnectPayload
	require.NoError(t, env.DecodePayload(&decoded))
	require.Equal(t, "t", decoded.Token)
	require.Equal(t, "c", decoded.ClientID)
}

func TestCode_CloseOnDefault(t *testing.T) {
	require.True(t, wire.CodeAuthFailed.CloseOnDefault())
	require.True(t, wire.CodeProtocolVersionUnsupported.CloseOnDefault())
	require.True(t, wire.CodeServerError.CloseOnDefault())
	require.False(t, wire.CodeValidationFailed.CloseOnDefault())
	require.False(t, wire.CodeRateLimited.CloseOnDefault())
}

func TestAsWireError(t *testing.T) {
	err := wire.New(wire.CodeForbidden, "nope")
	werr, ok := wire.AsWireError(err)
	require.True(t, ok)
	require.Equal(t, wire.CodeForbidden, werr.Code)

	_, ok = wire.AsWireError(nil)
	require.False(t, ok)
}
