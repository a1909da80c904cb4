package main

import (
	"chat-gateway/domain"
	"chat-gateway/infrastructure/storage"
	"chat-gateway/services"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
)

const usage = `roomctl <command> [flags]

Commands:
  create  -id <room> -name <name>   register a room (keeps members and log if it exists)
  list                              list rooms and their members
  history -id <room>                print the recent messages of a room
  inspect -prefix <key prefix>      dump raw keys (read-only)
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err := run(os.Args[1], os.Args[2:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, color.FgRed.Render(err.Error()))
		os.Exit(1)
	}
}

func run(command string, args []string, out io.Writer) error {
	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	dbPath := fs.String("db", envOr("BADGER_FILEPATH", "./data/gateway"), "path to the badger directory")
	level := fs.String("level", "WARN", "log level")
	id := fs.String("id", "", "room id")
	name := fs.String("name", "", "room name")
	prefix := fs.String("prefix", "room:", "key prefix to scan")
	limit := fs.Int("limit", 50, "messages shown by history")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if command == "inspect" {
		db, err := openReadOnly(*dbPath)
		if err != nil {
			return fmt.Errorf("error while opening badger: %w", err)
		}
		defer db.Close()
		return inspect(db, *prefix, out)
	}

	log := logs.GetLoggerFromString(*level)
	db, err := badger.Open(badger.DefaultOptions(*dbPath).WithLoggingLevel(badger.ERROR))
	if err != nil {
		return fmt.Errorf("error while opening badger: %w", err)
	}
	defer db.Close()

	chat := services.NewChatService(storage.NewRoomRepository(db, log, limit))
	ctx := context.Background()

	switch command {
	case "create":
		if *id == "" || *name == "" {
			return fmt.Errorf("create requires -id and -name")
		}
		if err := chat.CreateRoom(ctx, domain.RoomID(*id), *name); err != nil {
			return err
		}
		fmt.Fprintf(out, "room %s ready\n", *id)
		return nil
	case "list":
		rooms, err := chat.Rooms(ctx)
		if err != nil {
			return err
		}
		renderRooms(out, rooms)
		return nil
	case "history":
		if *id == "" {
			return fmt.Errorf("history requires -id")
		}
		room, err := chat.History(ctx, domain.RoomID(*id))
		if err != nil {
			return err
		}
		renderHistory(out, room)
		return nil
	default:
		return fmt.Errorf("unknown command %q\n%s", command, usage)
	}
}

func newTable(out io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(out)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	return table
}

func renderRooms(out io.Writer, rooms []domain.Room) {
	table := newTable(out, []string{"ID", "Name", "Members", "Online", "Offline"})
	for _, room := range rooms {
		online := lo.Filter(room.Participants, func(p domain.Participant, _ int) bool { return p.Online })
		offline := lo.Filter(room.Participants, func(p domain.Participant, _ int) bool { return !p.Online })
		table.Append([]string{
			string(room.ID),
			room.Name,
			fmt.Sprintf("%d", len(room.Participants)),
			color.FgGreen.Render(strings.Join(names(online), ",")),
			color.FgGray.Render(strings.Join(names(offline), ",")),
		})
	}
	table.Render()
}

func renderHistory(out io.Writer, room domain.Room) {
	header := color.New(color.BgBlack, color.FgGreen).Render(fmt.Sprintf(" %s (%s) ", room.Name, room.ID))
	fmt.Fprintln(out, header)
	for _, notice := range room.Notices {
		fmt.Fprintf(out, "%s %s: %s\n", color.FgYellow.Render("[notice]"), notice.Sender, notice.Text)
	}

	table := newTable(out, []string{"Time", "Sender", "Text"})
	for _, msg := range room.Messages {
		text := msg.Text
		if msg.System {
			text = color.FgGray.Render(text)
		}
		table.Append([]string{msg.Timestamp.Format("2006-01-02 15:04:05"), msg.Sender, text})
	}
	table.Render()
}

func names(participants []domain.Participant) []string {
	return lo.Map(participants, func(p domain.Participant, _ int) string { return p.Name })
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
