package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-go-golems/glazed/pkg/cli"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/chatrooms/pkg/client"
	"github.com/go-go-golems/chatrooms/pkg/config"
	"github.com/go-go-golems/chatrooms/pkg/rooms"
)

func sampleRooms() []rooms.ChatRoom {
	return []rooms.ChatRoom{
		{RoomID: 3, Messages: []rooms.Message{rooms.UserMessage("hello"), rooms.AssistantMessage("hi\nthere")}},
		{RoomID: 1},
	}
}

func TestParseRoomArg(t *testing.T) {
	id, err := parseRoomArg(" 42 ")
	require.NoError(t, err)
	require.Equal(t, rooms.ID(42), id)

	_, err = parseRoomArg("x")
	require.ErrorIs(t, err, rooms.ErrInvalidArgument)
	_, err = parseRoomArg("-2")
	require.ErrorIs(t, err, rooms.ErrInvalidArgument)
}

func TestRoomRows(t *testing.T) {
	rows := roomRows(sampleRooms())
	require.Len(t, rows, 2)

	want := []map[string]any{
		{"room_id": int64(3), "messages": 2, "last_role": "assistant", "last_message": "hi there"},
		{"room_id": int64(1), "messages": 0, "last_role": "", "last_message": ""},
	}
	for i, row := range rows {
		for k, v := range want[i] {
			got, ok := row.Get(k)
			require.True(t, ok, "row %d misses %s", i, k)
			require.Equal(t, v, got, "row %d field %s", i, k)
		}
	}
}

func TestRoomsCommandBuilds(t *testing.T) {
	c, err := NewRoomsCommand()
	require.NoError(t, err)
	cmd, err := cli.BuildCobraCommand(c)
	require.NoError(t, err)
	require.Equal(t, "rooms", cmd.Name())
	require.NotNil(t, cmd.Flags().Lookup("server"))
}

func TestPromptFromArgs(t *testing.T) {
	p, err := promptFromArgs([]string{"hello", "there"}, nil, true)
	require.NoError(t, err)
	require.Equal(t, "hello there", p)

	p, err = promptFromArgs(nil, strings.NewReader("piped prompt\nsecond line\n"), false)
	require.NoError(t, err)
	require.Equal(t, "piped prompt\nsecond line", p)

	_, err = promptFromArgs(nil, strings.NewReader("x"), true)
	require.ErrorIs(t, err, rooms.ErrInvalidArgument)
	_, err = promptFromArgs(nil, strings.NewReader(" \n"), false)
	require.ErrorIs(t, err, rooms.ErrInvalidArgument)
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "abc", truncate("abc", 5))
	require.Equal(t, "abcd…", truncate("abcdefgh", 5))
}

func TestWriteTranscriptsYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeTranscripts(&buf, sampleRooms(), "yaml"))

	var got []exportedRoom
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 2)
	require.Equal(t, int64(3), got[0].RoomID)
	require.Equal(t, exportedMessage{Role: "assistant", Content: "hi\nthere"}, got[0].Messages[1])
	require.Empty(t, got[1].Messages)
}

func TestWriteTranscriptsJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeTranscripts(&buf, sampleRooms()[:1], "json"))
	require.JSONEq(t, `[{"roomId":3,"messages":[{"role":"user","content":"hello"},{"role":"assistant","content":"hi\nthere"}]}]`, buf.String())

	require.Error(t, writeTranscripts(&buf, nil, "csv"))
}

func TestBuildAppServesEchoTurns(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("CHATROOMS_PROVIDER_API_KEY", "")
	s, err := config.Load(config.NewViper())
	require.NoError(t, err)

	a, err := buildApp(context.Background(), s)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	srv := httptest.NewServer(a.server.HTTPServer().Handler)
	t.Cleanup(srv.Close)
	c, err := client.New(srv.URL)
	require.NoError(t, err)

	reply, err := c.Chat(context.Background(), 8, "ping")
	require.NoError(t, err)
	require.Equal(t, "echo: ping", reply)

	list, err := c.Rooms(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, rooms.ID(8), list[0].RoomID)
}

func TestRootCommandWiresSubcommands(t *testing.T) {
	root := newRootCommand()
	names := []string{}
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	require.Subset(t, names, []string{"serve", "chat", "rooms", "export"})
	require.NotNil(t, root.PersistentFlags().Lookup("config"))
	require.NotNil(t, root.PersistentFlags().Lookup("log-level"))
}
