package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/chatrooms/pkg/client"
	"github.com/go-go-golems/chatrooms/pkg/rooms"
)

func addServerFlag(cmd *cobra.Command, server *string) {
	cmd.Flags().StringVar(server, "server", client.DefaultBaseURL, "chatrooms server base URL")
}

func parseRoomArg(arg string) (rooms.ID, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(rooms.ErrInvalidArgument, "room id %q is not a number", arg)
	}
	id := rooms.ID(n)
	if err := id.Validate(); err != nil {
		return 0, err
	}
	return id, nil
}

func newChatCommand() *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "chat ROOM_ID [PROMPT...]",
		Short: "Send one prompt to a room on a running server and print the reply",
		Long:  "Send one prompt to a room on a running server and print the reply. Without PROMPT the prompt is read from piped stdin.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			roomID, err := parseRoomArg(args[0])
			if err != nil {
				return err
			}
			prompt, err := promptFromArgs(args[1:], cmd.InOrStdin(), stdinIsTerminal())
			if err != nil {
				return err
			}
			c, err := client.New(server)
			if err != nil {
				return err
			}
			reply, err := c.Chat(cmd.Context(), roomID, prompt)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), reply)
			return err
		},
	}
	addServerFlag(cmd, &server)
	return cmd
}

func stdinIsTerminal() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// promptFromArgs joins args, or reads in when there are none and in is not a terminal.
func promptFromArgs(args []string, in io.Reader, interactive bool) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	if interactive || in == nil {
		return "", errors.Wrap(rooms.ErrInvalidArgument, "no prompt given and stdin is a terminal")
	}
	b, err := io.ReadAll(in)
	if err != nil {
		return "", errors.Wrap(err, "read prompt from stdin")
	}
	prompt := strings.TrimRight(string(b), "\r\n")
	if strings.TrimSpace(prompt) == "" {
		return "", errors.Wrap(rooms.ErrInvalidArgument, "empty prompt on stdin")
	}
	return prompt, nil
}
