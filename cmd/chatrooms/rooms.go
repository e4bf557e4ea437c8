package main

import (
	"context"
	"strings"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/chatrooms/pkg/client"
	"github.com/go-go-golems/chatrooms/pkg/rooms"
)

const previewWidth = 60

type RoomsCommand struct {
	*cmds.CommandDescription
}

type RoomsSettings struct {
	Server string `glazed:"server"`
}

func NewRoomsCommand() (*RoomsCommand, error) {
	glazedLayer, err := settings.NewGlazedSection()
	if err != nil {
		return nil, err
	}
	commandSettingsLayer, err := cli.NewCommandSettingsSection()
	if err != nil {
		return nil, err
	}

	desc := cmds.NewCommandDescription(
		"rooms",
		cmds.WithShort("List the rooms of a running server"),
		cmds.WithLong("List every room of a running server with its message count and a preview of the last message."),
		cmds.WithFlags(
			fields.New(
				"server",
				fields.TypeString,
				fields.WithDefault(client.DefaultBaseURL),
				fields.WithHelp("chatrooms server base URL"),
			),
		),
		cmds.WithSections(glazedLayer, commandSettingsLayer),
	)
	return &RoomsCommand{CommandDescription: desc}, nil
}

func (c *RoomsCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedLayers *values.Values,
	gp middlewares.Processor,
) error {
	s := &RoomsSettings{}
	if err := parsedLayers.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	cl, err := client.New(s.Server)
	if err != nil {
		return err
	}
	list, err := cl.Rooms(ctx)
	if err != nil {
		return err
	}
	for _, row := range roomRows(list) {
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

var _ cmds.GlazeCommand = &RoomsCommand{}

func newRoomsCommand() *cobra.Command {
	c, err := NewRoomsCommand()
	cobra.CheckErr(err)
	cmd, err := cli.BuildCobraCommand(c)
	cobra.CheckErr(err)
	return cmd
}

func roomRows(list []rooms.ChatRoom) []types.Row {
	return lo.Map(list, func(r rooms.ChatRoom, _ int) types.Row {
		role, preview := "", ""
		if last, ok := r.Last(); ok {
			role = last.Role.String()
			preview = truncate(last.Content, previewWidth)
		}
		return types.NewRow(
			types.MRP("room_id", int64(r.RoomID)),
			types.MRP("messages", len(r.Messages)),
			types.MRP("last_role", role),
			types.MRP("last_message", preview),
		)
	})
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
