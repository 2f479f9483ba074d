package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/dkeye/wtn/internal/adapters/rtc"
	"github.com/dkeye/wtn/internal/client"
	"github.com/dkeye/wtn/internal/gateway"
	"github.com/dkeye/wtn/internal/logging"
	"github.com/dkeye/wtn/internal/negotiation"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "wtn-client",
	Short: "Join signaling rooms and publish or watch media streams",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(logging.Config{
			Level:  viper.GetString("log-level"),
			Pretty: viper.GetBool("pretty"),
		})
	},
}

func init() {
	viper.SetEnvPrefix("WTN")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	f := rootCmd.PersistentFlags()
	f.String("server", "ws://localhost:8080/api/ws/signal", "signaling control channel URL")
	f.String("gateway", "http://localhost:1985/rtc/v1", "media gateway base URL")
	f.String("stun", "stun:stun.l.google.com:19302", "STUN server, empty for none")
	f.Duration("timeout", 0, "give up after this long, 0 runs until interrupted")
	f.String("log-level", "info", "log level")
	f.Bool("pretty", true, "human readable logs")
	_ = viper.BindPFlags(f)

	rootCmd.AddCommand(watchCmd, publishCmd)
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newClient() (*client.Client, error) {
	gw, err := gateway.New(viper.GetString("gateway"), nil)
	if err != nil {
		return nil, err
	}
	webrtcCfg := rtc.DefaultWebRTCConfig()
	if stun := viper.GetString("stun"); stun == "" {
		webrtcCfg.ICEServers = nil
	} else {
		webrtcCfg.ICEServers[0].URLs = []string{stun}
	}
	coord := negotiation.NewCoordinator(rtc.NewEngine(webrtcCfg), gw)
	log.Debug().Str("server", viper.GetString("server")).Str("gateway", viper.GetString("gateway")).Msg("client config")
	return client.New(client.Options{
		URL:         viper.GetString("server"),
		Coordinator: coord,
	}), nil
}
