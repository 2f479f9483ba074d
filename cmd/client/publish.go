package main

import (
	"context"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var publishCmd = &cobra.Command{
	Use:   "publish <room> <user> <stream>",
	Short: "Publish an empty VP8/Opus stream until interrupted",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := runContext()
		defer cancel()
		return publish(ctx, args[0], args[1], args[2])
	},
}

func publish(ctx context.Context, room, user, stream string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Connect(ctx); err != nil {
		return err
	}
	if _, err := c.Join(ctx, room, user); err != nil {
		return err
	}

	video, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", stream)
	if err != nil {
		return err
	}
	audio, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", stream)
	if err != nil {
		return err
	}
	ls, err := c.CreateLocalStream(stream, video, audio)
	if err != nil {
		return err
	}
	if err := c.Publish(ctx, ls); err != nil {
		return err
	}
	log.Info().Str("room", room).Str("stream", stream).Str("resource", ls.Session().Resource()).Msg("publishing")

	<-ctx.Done()
	// ctx is done; teardown gets its own.
	return c.Unpublish(context.Background(), ls)
}
