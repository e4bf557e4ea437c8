package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/chatrooms/pkg/client"
	"github.com/go-go-golems/chatrooms/pkg/persistence/roomstore"
	"github.com/go-go-golems/chatrooms/pkg/rooms"
)

type exportedMessage struct {
	Role    string `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

type exportedRoom struct {
	RoomID   int64             `json:"roomId" yaml:"roomId"`
	Messages []exportedMessage `json:"messages" yaml:"messages"`
}

func newExportCommand(st *rootState) *cobra.Command {
	var (
		server    string
		fromStore bool
		format    string
		output    string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Dump every room transcript as YAML or JSON",
		Long: "Dump every room transcript. By default the rooms come from a running server; " +
			"--from-store reads the configured room store directly.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var list []rooms.ChatRoom
			if fromStore {
				store, err := roomstore.Open(cmd.Context(), st.settings.Store)
				if err != nil {
					return err
				}
				defer func() { _ = store.Close() }()
				list, err = store.ListAll(cmd.Context())
				if err != nil {
					return err
				}
			} else {
				c, err := client.New(server)
				if err != nil {
					return err
				}
				list, err = c.Rooms(cmd.Context())
				if err != nil {
					return err
				}
			}

			w := cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return errors.Wrap(err, "create output file")
				}
				defer func() { _ = f.Close() }()
				w = f
			}
			return writeTranscripts(w, list, format)
		},
	}
	addServerFlag(cmd, &server)
	cmd.Flags().BoolVar(&fromStore, "from-store", false, "read rooms from the configured store instead of a server")
	cmd.Flags().StringVar(&format, "format", "yaml", "output format (yaml, json)")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "output file, - for stdout")
	return cmd
}

func toExported(list []rooms.ChatRoom) []exportedRoom {
	return lo.Map(list, func(r rooms.ChatRoom, _ int) exportedRoom {
		return exportedRoom{
			RoomID: int64(r.RoomID),
			Messages: lo.Map(r.Messages, func(m rooms.Message, _ int) exportedMessage {
				return exportedMessage{Role: m.Role.String(), Content: m.Content}
			}),
		}
	})
}

func writeTranscripts(w io.Writer, list []rooms.ChatRoom, format string) error {
	doc := toExported(list)
	switch format {
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return errors.Wrap(err, "encode yaml")
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return errors.Wrap(enc.Encode(doc), "encode json")
	default:
		return errors.Errorf("unknown export format %q", format)
	}
}
