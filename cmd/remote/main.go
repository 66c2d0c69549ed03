// Package main provides the remote control CLI entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"

	apiconnect "github.com/osa030/tilawa/internal/api/connect"
	"github.com/osa030/tilawa/internal/app/notification"
	"github.com/osa030/tilawa/internal/app/transport"
)

var (
	app    = kingpin.New("tilawa-remote", "Remote control for the recitation player")
	server = app.Flag("server", "Server address").Default("http://127.0.0.1:8750").Envar("TILAWA_SERVER").String()
	token  = app.Flag("token", "Admin token (or set TILAWA_ADMIN_TOKEN env)").Envar("TILAWA_ADMIN_TOKEN").String()

	// status command
	statusCmd = app.Command("status", "Show playback status")

	// playlist command
	playlistCmd = app.Command("playlist", "Show the loaded playlist").Alias("tracks")

	// jump command
	jumpCmd   = app.Command("jump", "Play a verse of the current chapter")
	jumpVerse = jumpCmd.Arg("verse", "Verse number").Required().Int()

	// events command
	eventsCmd = app.Command("events", "Follow playback notifications")

	actionCmds = map[string]transport.Action{}
)

func init() {
	for _, a := range transport.Actions() {
		cmd := app.Command(a.String(), fmt.Sprintf("Send the %s action", a))
		actionCmds[cmd.FullCommand()] = a
	}
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	player := apiconnect.NewPlayerServiceClient(http.DefaultClient, *server)
	control := apiconnect.NewControlServiceClient(http.DefaultClient, *server)

	ctx := context.Background()

	switch command {
	case statusCmd.FullCommand():
		status(ctx, player)
	case playlistCmd.FullCommand():
		playlist(ctx, player)
	case jumpCmd.FullCommand():
		jump(ctx, control, *token, *jumpVerse)
	case eventsCmd.FullCommand():
		events(player)
	default:
		a, ok := actionCmds[command]
		if !ok {
			app.FatalUsage("unknown command %q", command)
		}
		action(ctx, control, *token, a)
	}
}

func fail(err error) {
	fmt.Printf("Error: %v\n", err)
	os.Exit(1)
}

func status(ctx context.Context, client *apiconnect.PlayerServiceClient) {
	resp, err := client.GetStatus(ctx, connect.NewRequest(&apiconnect.GetStatusRequest{}))
	if err != nil {
		fail(err)
	}

	s := resp.Msg
	fmt.Println("\n=== CURRENT PLAYBACK STATUS ===")
	fmt.Printf("State: %s\n", s.State)
	fmt.Printf("Strategy: %s\n", s.Strategy)
	fmt.Println("\nSelection:")
	fmt.Printf("  Chapter: %d (%s)\n", s.Selection.Chapter, s.ChapterName)
	fmt.Printf("  Verses: %d-%d\n", s.Selection.Start, s.Selection.End)
	fmt.Printf("  Narrator: %s (%s)\n", s.NarratorName, s.Selection.Narrator)
	fmt.Printf("  Repeat: %v\n", s.Selection.Repeat)

	if s.Tracks > 0 {
		fmt.Println("\nCurrent Track:")
		fmt.Printf("  Title: %s\n", s.NowPlaying.Title)
		fmt.Printf("  Track ID: %s\n", s.TrackID)
		fmt.Printf("  Position: %d/%d\n", s.Index+1, s.Tracks)
		fmt.Printf("  Elapsed: %s\n", (time.Duration(s.PositionMs) * time.Millisecond).Truncate(100*time.Millisecond))
		if s.PlayInFlight {
			fmt.Println("  Starting...")
		}
	} else {
		fmt.Println("\nNo playlist loaded")
	}
	if s.LastError != "" {
		fmt.Printf("\nLast Error: %s\n", s.LastError)
	}
	fmt.Println()
}

func playlist(ctx context.Context, client *apiconnect.PlayerServiceClient) {
	resp, err := client.GetPlaylist(ctx, connect.NewRequest(&apiconnect.GetPlaylistRequest{}))
	if err != nil {
		fail(err)
	}

	p := resp.Msg
	if p.Repeat {
		fmt.Println("Repeat: on")
	}
	for _, t := range p.Tracks {
		marker := " "
		if t.Active {
			marker = ">"
		}
		cached := " "
		if t.Cached {
			cached = "*"
		}
		label := fmt.Sprintf("%d:%d", t.Chapter, t.Verse)
		if t.Chime {
			label = "(repeat chime)"
		}
		fmt.Printf("%s%s %3d  %s  %-14s %s\n", marker, cached, t.Index, t.ID, label, t.URL)
	}
}

func action(ctx context.Context, client *apiconnect.ControlServiceClient, token string, a transport.Action) {
	req := connect.NewRequest(&apiconnect.TransportRequest{Action: a.String()})
	req.Header().Set(apiconnect.AdminTokenHeader, token)
	resp, err := client.Transport(ctx, req)
	if err != nil {
		fail(err)
	}
	report(resp.Msg)
}

func jump(ctx context.Context, client *apiconnect.ControlServiceClient, token string, verse int) {
	req := connect.NewRequest(&apiconnect.JumpRequest{Verse: verse})
	req.Header().Set(apiconnect.AdminTokenHeader, token)
	resp, err := client.Jump(ctx, req)
	if err != nil {
		fail(err)
	}
	report(resp.Msg)
}

func report(r *apiconnect.ActionResponse) {
	if r.Success {
		fmt.Println(r.Message)
	} else {
		fmt.Printf("Failed: %s\n", r.Message)
	}
}

// events prints notifications until interrupted.
func events(client *apiconnect.PlayerServiceClient) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stream, err := client.WatchEvents(ctx, connect.NewRequest(&apiconnect.WatchEventsRequest{}))
	if err != nil {
		fail(err)
	}
	defer stream.Close()

	for stream.Receive() {
		printNotification(stream.Msg())
	}
	if err := stream.Err(); err != nil && ctx.Err() == nil {
		fail(err)
	}
}

func printNotification(n *notification.Notification) {
	line := fmt.Sprintf("[%s] #%d %-17s", n.Time.Local().Format(time.TimeOnly), n.SequenceNo, n.Type)
	if n.State != "" {
		line += " state=" + n.State
	}
	if n.NowPlaying.Title != "" {
		line += fmt.Sprintf(" track=%q", n.NowPlaying.Title)
	}
	if n.Message != "" {
		line += fmt.Sprintf(" message=%q", n.Message)
	}
	fmt.Println(line)
}
