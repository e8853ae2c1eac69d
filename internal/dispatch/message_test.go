package dispatch

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JackieWYB/majiang-sub001/internal/game"
)

func TestDecodeEnvelope(t *testing.T) {
	env, err := Decode([]byte(`{"type":"REQUEST","command":"play","requestId":"r1","roomId":"100001","data":{"tile":"5W"}}`))
	require.NoError(t, err)
	require.Equal(t, TypeRequest, env.Type)
	require.Equal(t, "play", env.Command)
	require.Equal(t, "100001", env.RoomID)

	// REQUEST without requestId is malformed.
	_, err = Decode([]byte(`{"type":"REQUEST","command":"play"}`))
	require.Error(t, err)

	// Unknown type is malformed.
	_, err = Decode([]byte(`{"type":"NOTICE"}`))
	require.Error(t, err)

	// Broken JSON is malformed.
	_, err = Decode([]byte(`{`))
	require.Error(t, err)

	// Heartbeats carry no requestId.
	env, err = Decode([]byte(`{"type":"HEARTBEAT"}`))
	require.NoError(t, err)
	require.Equal(t, TypeHeartbeat, env.Type)
}

func parseTestAction(t *testing.T, command string, data string) *game.PlayerActionEvent {
	t.Helper()
	env := &Envelope{
		Type:      TypeRequest,
		Command:   command,
		RequestID: "r1",
		Data:      json.RawMessage(data),
	}
	ev, err := ParseAction("u1", env)
	require.NoError(t, err)
	return ev
}

func TestParseActionCommands(t *testing.T) {
	ev := parseTestAction(t, CmdPlay, `{"tile":"5W"}`)
	require.Equal(t, game.ActionDiscard, ev.Action)
	require.Equal(t, game.Tile{Suit: game.SuitWan, Rank: 5}, ev.Tile)
	require.Equal(t, "u1", ev.GetUserID())
	require.Equal(t, "r1", ev.RequestID)

	// "discard" is an alias of "play".
	ev = parseTestAction(t, CmdDiscard, `{"tile":"9D"}`)
	require.Equal(t, game.ActionDiscard, ev.Action)
	require.Equal(t, game.Tile{Suit: game.SuitTong, Rank: 9}, ev.Tile)

	ev = parseTestAction(t, CmdPeng, `{"tile":"3T","claimedFrom":2}`)
	require.Equal(t, game.ActionPeng, ev.Action)
	require.Equal(t, 2, ev.ClaimedFrom)

	ev = parseTestAction(t, CmdGang, `{"tile":"7W","gangType":"CONCEALED"}`)
	require.Equal(t, game.ActionGang, ev.Action)
	require.Equal(t, game.KongConcealed, ev.GangKind)

	ev = parseTestAction(t, CmdChi, `{"tile":"5W","sequence":"456","claimedFrom":0}`)
	require.Equal(t, game.ActionChi, ev.Action)
	require.Len(t, ev.Sequence, 3)
	require.Equal(t, game.Tile{Suit: game.SuitWan, Rank: 4}, ev.Sequence[0])
	require.Equal(t, game.Tile{Suit: game.SuitWan, Rank: 6}, ev.Sequence[2])

	// "hu" and "win" are aliases.
	ev = parseTestAction(t, CmdHu, `{"winningTile":"7W","selfDraw":true}`)
	require.Equal(t, game.ActionHu, ev.Action)
	require.True(t, ev.SelfDraw)
	ev = parseTestAction(t, CmdWin, `{"winningTile":"7W","selfDraw":false,"claimedFrom":1}`)
	require.Equal(t, game.ActionHu, ev.Action)
	require.Equal(t, 1, ev.ClaimedFrom)

	ev = parseTestAction(t, CmdPass, `{}`)
	require.Equal(t, game.ActionPass, ev.Action)
}

func TestParseActionRejectsBadPayloads(t *testing.T) {
	cases := []struct {
		command string
		data    string
	}{
		{CmdPlay, `{"tile":"XX"}`},
		{CmdPlay, `{"tile":"0W"}`},
		{CmdGang, `{"tile":"5W","gangType":"SIDEWAYS"}`},
		{CmdChi, `{"tile":"5W","sequence":"457"}`}, // not consecutive
		{CmdChi, `{"tile":"5W","sequence":"45"}`},  // wrong length
		{CmdHu, `{"winningTile":""}`},
	}
	for _, tc := range cases {
		env := &Envelope{Type: TypeRequest, Command: tc.command, RequestID: "r1", Data: json.RawMessage(tc.data)}
		_, err := ParseAction("u1", env)
		require.Error(t, err, "command %s data %s", tc.command, tc.data)
	}

	env := &Envelope{Type: TypeRequest, Command: "teleport", RequestID: "r1"}
	_, err := ParseAction("u1", env)
	require.Error(t, err)
}

func TestIsActionCommand(t *testing.T) {
	for _, cmd := range []string{CmdPlay, CmdDiscard, CmdPeng, CmdGang, CmdChi, CmdHu, CmdWin, CmdPass} {
		require.True(t, IsActionCommand(cmd), cmd)
	}
	for _, cmd := range []string{CmdCreateRoom, CmdJoinRoom, CmdReady, CmdSnapshot, ""} {
		require.False(t, IsActionCommand(cmd), cmd)
	}
}
