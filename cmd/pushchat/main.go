// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command pushchat logs in to a chat service and prints the normalized
// push events of the session until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aiku/pushchat/pkg/pushchat"
	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	configPath   = flag.StringP("config", "c", "", "Path to the YAML config file")
	host         = flag.String("host", "", "Service host name (overrides the config)")
	email        = flag.StringP("email", "e", "", "Account email")
	token        = flag.String("token", "", "Existing session token instead of email/password")
	showVersion  = flag.BoolP("version", "v", false, "Print the version and exit")
	writeExample = flag.Bool("generate-config", false, "Print the example config and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("pushchat %s (commit %s, built %s)\n", Tag, Commit, BuildTime)
		return
	}
	if *writeExample {
		fmt.Print(pushchat.ExampleConfig)
		return
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		With().Timestamp().Logger()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	client := pushchat.New(cfg.Options(log))
	defer client.Close()
	subscribe(client, log.Level(cfg.Level()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case *token != "":
		err = client.LoginWithToken(ctx, *token)
	case *email != "":
		err = client.Login(ctx, *email, os.Getenv("PUSHCHAT_PASSWORD"))
	default:
		log.Fatal().Msg("Either --email (with PUSHCHAT_PASSWORD) or --token is required")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Login failed")
	}

	<-ctx.Done()
	log.Info().Msg("Shutting down")
}

func loadConfig() (*pushchat.Config, error) {
	var data []byte
	if *configPath != "" {
		var err error
		if data, err = os.ReadFile(*configPath); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	cfg, err := pushchat.ParseConfig(data)
	if err != nil {
		return nil, err
	}
	if *host != "" {
		cfg.Host = *host
		cfg.APIURL, cfg.SocketURL = "", ""
		if err := cfg.PostProcess(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func subscribe(client *pushchat.Client, log zerolog.Logger) {
	client.OnReady(func() {
		log.Info().Str("user_id", client.UserID()).Msg("Ready")
	})
	client.OnConnected(func() {
		log.Info().Msg("Connected")
	})
	client.OnDropped(func() {
		log.Warn().Msg("Connection dropped")
	})
	client.OnError(func(err error) {
		log.Error().Err(err).Msg("Client error")
	})
	client.OnMessage(func(msg *pushchat.Message) {
		log.Info().
			Str("channel", msg.Channel.Name()).
			Str("author_id", msg.AuthorID).
			Str("content", msg.Content).
			Msg("Message")
	})
	client.OnMessageUpdate(func(msg *pushchat.Message, previous *pushchat.MessageSnapshot) {
		evt := log.Info().Str("message_id", msg.ID).Str("content", msg.Content)
		if previous != nil {
			evt = evt.Str("previous", previous.Content)
		}
		evt.Msg("Message edited")
	})
	client.OnMessageDelete(func(id string, previous *pushchat.MessageSnapshot) {
		evt := log.Info().Str("message_id", id)
		if previous != nil {
			evt = evt.Str("previous", previous.Content)
		}
		evt.Msg("Message deleted")
	})
}
