// Command roomwatch follows one room's votes live and prints the tally on
// every change.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"revealroom/models"
	"revealroom/syncclient"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type options struct {
	APIURL       string
	RoomID       string
	PollInterval time.Duration
	Verbose      bool
}

func parseFlags(args []string) (options, error) {
	var opts options

	fs := flag.NewFlagSet("roomwatch", flag.ContinueOnError)
	fs.StringVar(&opts.APIURL, "api", "", "API base URL (or ROOMWATCH_API)")
	fs.StringVar(&opts.RoomID, "room", "", "Room id to follow")
	fs.DurationVar(&opts.PollInterval, "poll", 5*time.Second, "Polling interval while live updates are down")
	fs.BoolVar(&opts.Verbose, "v", false, "Debug logging")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	if opts.APIURL == "" {
		opts.APIURL = os.Getenv("ROOMWATCH_API")
	}
	if opts.APIURL == "" {
		opts.APIURL = "http://localhost:8080"
	}
	if opts.RoomID == "" && fs.NArg() > 0 {
		opts.RoomID = fs.Arg(0)
	}
	if opts.RoomID == "" {
		return options{}, errors.New("room id required (use -room or pass it as an argument)")
	}
	if opts.PollInterval <= 0 {
		return options{}, errors.New("poll interval must be positive")
	}
	return opts, nil
}

func main() {
	_ = godotenv.Load()

	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if opts.Verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := syncclient.NewAPI(opts.APIURL, nil)
	follower := syncclient.NewFollower(api, opts.PollInterval, clockwork.NewRealClock())
	defer follower.Close()

	printTally := func(reason string) {
		counts := follower.Tally().Counts()
		log.Info().
			Str("room_id", opts.RoomID).
			Str("state", string(follower.State())).
			Int("total", follower.Tally().Len()).
			Int("male", counts[models.CategoryMale]).
			Int("female", counts[models.CategoryFemale]).
			Msg(reason)
	}

	err = follower.Follow(ctx, opts.RoomID, syncclient.Handlers{
		OnNewVote: func(v models.Vote) {
			printTally("new vote from " + v.Name)
		},
		OnVoteDeleted: func(id string) {
			printTally("vote removed")
		},
		OnRevealed: func(c models.Category) {
			log.Info().Str("room_id", opts.RoomID).Str("category", string(c)).Msg("category revealed")
		},
		OnRoulette: func(data json.RawMessage) {
			var payload struct {
				Roulette struct {
					State struct {
						Phase     string   `json:"phase"`
						Remaining []string `json:"remaining"`
						Winner    string   `json:"winner"`
					} `json:"state"`
				} `json:"roulette"`
			}
			if err := json.Unmarshal(data, &payload); err != nil {
				return
			}
			st := payload.Roulette.State
			log.Info().Str("phase", st.Phase).Strs("remaining", st.Remaining).Str("winner", st.Winner).Msg("roulette")
		},
		OnState: func(s syncclient.State) {
			log.Info().Str("state", string(s)).Msg("channel state")
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to follow room")
	}
	printTally("initial tally")

	<-ctx.Done()
	log.Info().Msg("stopped")
}
