// Package main provides the command-line client for the bridge.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path"
	"strconv"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	apiconnect "github.com/osa030/trackbridge/internal/api/connect"
	"github.com/osa030/trackbridge/internal/app/playback"
)

var (
	app    = kingpin.New("trackctl", "trackbridge command-line client")
	server = app.Flag("server", "Server address").Default("http://localhost:8080").String()
	token  = app.Flag("token", "Bridge token (or set TRACKBRIDGE_TOKEN env)").Envar("TRACKBRIDGE_TOKEN").String()

	setupCmd      = app.Command("setup", "Create the player")
	setupCacheKiB = setupCmd.Flag("max-cache-kib", "Cache budget in KiB (0 disables the cache)").Int64()
	setupRating   = setupCmd.Flag("rating-type", "Rating type (0-6)").Int()

	optionsCmd    = app.Command("options", "Update player options")
	optionsRating = optionsCmd.Flag("rating-type", "Rating type (0-6)").Required().Int()

	addCmd    = app.Command("add", "Append tracks to the queue")
	addURLs   = addCmd.Arg("url", "Track URLs or file paths").Required().Strings()
	addBefore = addCmd.Flag("before", "Insert before the track with this ID").String()
	addTitle  = addCmd.Flag("title", "Title for every added track").String()

	addJSONCmd  = app.Command("add-json", "Append track objects read from a JSON array file")
	addJSONFile = addJSONCmd.Arg("file", "JSON file ('-' for stdin)").Required().String()

	removeCmd = app.Command("remove", "Remove tracks from the queue")
	removeIDs = removeCmd.Arg("id", "Track IDs").Required().Strings()

	removeUpcomingCmd = app.Command("remove-upcoming", "Remove every track after the current one")

	skipCmd = app.Command("skip", "Jump to a track")
	skipID  = skipCmd.Arg("id", "Track ID").Required().String()

	nextCmd     = app.Command("next", "Skip to the next track")
	previousCmd = app.Command("previous", "Skip to the previous track")
	playCmd     = app.Command("play", "Start playback")
	pauseCmd    = app.Command("pause", "Pause playback")
	stopCmd     = app.Command("stop", "Stop playback")
	resetCmd    = app.Command("reset", "Stop playback and clear the queue")

	seekCmd     = app.Command("seek", "Seek within the current track")
	seekSeconds = seekCmd.Arg("seconds", "Target position in seconds").Required().Float64()

	volumeCmd   = app.Command("volume", "Get or set the volume")
	volumeValue = volumeCmd.Arg("value", "New volume (0-1)").String()

	rateCmd   = app.Command("rate", "Get or set the playback rate")
	rateValue = rateCmd.Arg("value", "New playback rate").String()

	trackCmd = app.Command("track", "Show a queued track")
	trackID  = trackCmd.Arg("id", "Track ID").Required().String()

	queueCmd    = app.Command("queue", "Show the queue")
	currentCmd  = app.Command("current", "Show the current track ID")
	positionCmd = app.Command("position", "Show the playback position")
	durationCmd = app.Command("duration", "Show the current track duration")
	bufferedCmd = app.Command("buffered", "Show the buffered position")
	stateCmd    = app.Command("state", "Show the playback state")
	eventsCmd   = app.Command("events", "Stream player events")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	client := apiconnect.NewClient(http.DefaultClient, *server, *token)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := execute(ctx, client, command); err != nil {
		if code := apiconnect.CodeOf(err); code != "" {
			fmt.Printf("Error [%s]: %v\n", code, err)
		} else {
			fmt.Printf("Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func execute(ctx context.Context, client *apiconnect.Client, command string) error {
	switch command {
	case setupCmd.FullCommand():
		return client.Setup(ctx, map[string]any{"maxCacheSize": *setupCacheKiB, "ratingType": *setupRating})
	case optionsCmd.FullCommand():
		return client.UpdateOptions(ctx, map[string]any{"ratingType": *optionsRating})
	case addCmd.FullCommand():
		return client.Add(ctx, tracksFromURLs(*addURLs, *addTitle), *addBefore)
	case addJSONCmd.FullCommand():
		tracks, err := readTracks(*addJSONFile)
		if err != nil {
			return err
		}
		return client.Add(ctx, tracks, "")
	case removeCmd.FullCommand():
		return client.Remove(ctx, *removeIDs)
	case removeUpcomingCmd.FullCommand():
		return client.RemoveUpcoming(ctx)
	case skipCmd.FullCommand():
		return client.Skip(ctx, *skipID)
	case nextCmd.FullCommand():
		return client.SkipToNext(ctx)
	case previousCmd.FullCommand():
		return client.SkipToPrevious(ctx)
	case playCmd.FullCommand():
		return client.Play(ctx)
	case pauseCmd.FullCommand():
		return client.Pause(ctx)
	case stopCmd.FullCommand():
		return client.Stop(ctx)
	case resetCmd.FullCommand():
		return client.Reset(ctx)
	case seekCmd.FullCommand():
		return client.SeekTo(ctx, *seekSeconds)
	case volumeCmd.FullCommand():
		if *volumeValue != "" {
			v, err := strconv.ParseFloat(*volumeValue, 64)
			if err != nil {
				return errors.Wrap(err, "invalid volume")
			}
			return client.SetVolume(ctx, v)
		}
		return printValue("Volume")(client.Volume(ctx))
	case rateCmd.FullCommand():
		if *rateValue != "" {
			r, err := strconv.ParseFloat(*rateValue, 64)
			if err != nil {
				return errors.Wrap(err, "invalid rate")
			}
			return client.SetRate(ctx, r)
		}
		return printValue("Rate")(client.Rate(ctx))
	case trackCmd.FullCommand():
		t, err := client.Track(ctx, *trackID)
		if err != nil {
			return err
		}
		if t == nil {
			fmt.Println("Not in queue")
			return nil
		}
		return printJSON(t)
	case queueCmd.FullCommand():
		q, err := client.Queue(ctx)
		if err != nil {
			return err
		}
		return printJSON(q)
	case currentCmd.FullCommand():
		id, ok, err := client.CurrentTrack(ctx)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("No current track")
			return nil
		}
		fmt.Println(id)
	case positionCmd.FullCommand():
		return printValue("Position")(client.Position(ctx))
	case durationCmd.FullCommand():
		return printValue("Duration")(client.Duration(ctx))
	case bufferedCmd.FullCommand():
		return printValue("Buffered")(client.BufferedPosition(ctx))
	case stateCmd.FullCommand():
		state, err := client.State(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("State: %s (%d)\n", playback.State(state), state)
	case eventsCmd.FullCommand():
		return streamEvents(ctx, client)
	}
	return nil
}

func tracksFromURLs(urls []string, title string) []map[string]any {
	tracks := make([]map[string]any, 0, len(urls))
	for _, u := range urls {
		t := map[string]any{
			"id":    uuid.NewString(),
			"url":   u,
			"title": title,
		}
		if title == "" {
			t["title"] = path.Base(u)
		}
		tracks = append(tracks, t)
	}
	return tracks
}

func readTracks(file string) ([]map[string]any, error) {
	var (
		data []byte
		err  error
	)
	if file == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read tracks")
	}
	var tracks []map[string]any
	if err := json.Unmarshal(data, &tracks); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", file)
	}
	return tracks, nil
}

// printValue returns a printer that can take a getter's results directly.
func printValue(label string) func(float64, error) error {
	return func(v float64, err error) error {
		if err != nil {
			return err
		}
		fmt.Printf("%s: %g\n", label, v)
		return nil
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func streamEvents(ctx context.Context, client *apiconnect.Client) error {
	stream, err := client.Events(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	fmt.Println("Subscribed to events. Press Ctrl+C to exit.")

	for stream.Receive() {
		printEvent(stream.Msg())
	}
	if ctx.Err() != nil {
		fmt.Println("\nUnsubscribing...")
		return nil
	}
	return stream.Err()
}

func printEvent(e *apiconnect.EventMessage) {
	fmt.Printf("[%d] %s", e.SequenceNo, e.Type)
	switch {
	case e.State != nil:
		fmt.Printf(" state=%s", playback.State(*e.State))
	case e.Type == "onTrackChanged":
		fmt.Printf(" previous=%v next=%v", e.Previous["id"], e.Next["id"])
		if e.Position != nil {
			fmt.Printf(" position=%g", *e.Position)
		}
	case e.Type == "onError":
		fmt.Printf(" source=%s message=%s", e.Source, e.Message)
	case e.Track != nil:
		fmt.Printf(" track=%v", e.Track["id"])
	}
	fmt.Println()
}
