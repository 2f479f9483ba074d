package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dkeye/wtn/internal/client"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var flagSubscribe bool

var watchCmd = &cobra.Command{
	Use:   "watch <room> <user>",
	Short: "Join a room and log its events",
	Long: `Join a room and log every user and stream event.

Examples:
  wtn-client watch r1 bob
  wtn-client watch r1 bob --subscribe`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := runContext()
		defer cancel()
		return watch(ctx, args[0], args[1])
	},
}

func init() {
	watchCmd.Flags().BoolVar(&flagSubscribe, "subscribe", false, "subscribe to every published stream")
}

func runContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	if d := viper.GetDuration("timeout"); d > 0 {
		tctx, cancel := context.WithTimeout(ctx, d)
		return tctx, func() { cancel(); stop() }
	}
	return ctx, stop
}

func watch(ctx context.Context, room, user string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	events, cancel := c.Listen(64)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		return err
	}
	res, err := c.Join(ctx, room, user)
	if err != nil {
		return err
	}
	log.Info().Str("room", room).Str("user", user).Int("streams", len(res.Streams)).Msg("joined")

	for {
		select {
		case <-ctx.Done():
			return c.Leave(room, user)
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			log.Info().Str("event", string(ev.Kind)).Str("user", string(ev.User)).Str("stream", string(ev.Stream)).Msg("room event")
			if flagSubscribe && ev.Kind == client.EventStreamPublished && ev.Remote != nil {
				go subscribe(ctx, c, ev.Remote)
			}
		}
	}
}

func subscribe(ctx context.Context, c *client.Client, rs *client.RemoteStream) {
	if err := c.Subscribe(ctx, rs); err != nil {
		log.Error().Err(err).Str("user", string(rs.User)).Str("stream", string(rs.Stream)).Msg("subscribe")
		return
	}
	log.Info().Str("user", string(rs.User)).Str("stream", string(rs.Stream)).Msg("subscribed")
	for {
		select {
		case <-ctx.Done():
			return
		case track, ok := <-rs.Media().Added():
			if !ok {
				return
			}
			log.Info().Str("user", string(rs.User)).Str("kind", track.Kind().String()).Str("codec", track.Codec().MimeType).Msg("track")
		}
	}
}
