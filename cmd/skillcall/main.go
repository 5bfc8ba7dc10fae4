package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	ossignal "os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"skillswap/native/internal/api"
	"skillswap/native/internal/call"
	"skillswap/native/internal/config"
	"skillswap/native/internal/domain"
	"skillswap/native/internal/media"
	"skillswap/native/internal/relay/mongodb"
	"skillswap/native/internal/relay/sqlite"
	sigclient "skillswap/native/internal/signal"
	"skillswap/native/internal/webrtc"
)

const helpText = `skillcall - Join a SkillSwap video call from the command line

Usage:
  skillcall [options]

Captures the local camera and microphone (when present), negotiates a direct
peer connection with the other participant and, optionally, records the
remote media.

Environment Variables:
  SKILLSWAP_SELF_ID        Your participant id (required)
  SKILLSWAP_SELF_NAME      Your display name
  SKILLSWAP_CALL_ID        Call id; requires SKILLSWAP_PEER_ID
  SKILLSWAP_PEER_ID        The other participant's id
  SKILLSWAP_PEER_NAME      The other participant's display name
  SKILLSWAP_MATCH_ID       Resolve call and peer from an accepted match
  SKILLSWAP_API_URL        Backend URL (with SKILLSWAP_MATCH_ID)
  SKILLSWAP_API_KEY        Backend anon key (with SKILLSWAP_MATCH_ID)
  SKILLSWAP_API_TOKEN      User access token for the match lookup
  SKILLSWAP_RELAY          ws://host/v1/ws, sqlite://<path> or mongodb://...
  SKILLSWAP_STUN           Comma separated STUN URLs
  SKILLSWAP_WANT_VIDEO     Send video (default true)
  SKILLSWAP_WANT_AUDIO     Send audio (default true)
  SKILLSWAP_RECORD_DIR     Write remote media to this directory
  SKILLSWAP_REPLAY_WINDOW  Accept signals sent this long before joining (default 2m)
  SKILLSWAP_MODE           peer (default) or hosted
  SKILLSWAP_HOSTED_DOMAIN  Hosted room provider (default meet.jit.si)

Examples:
  # Two terminals against a shared database
  SKILLSWAP_RELAY=sqlite://signals.db SKILLSWAP_CALL_ID=room-42 \
    SKILLSWAP_SELF_ID=a1 SKILLSWAP_PEER_ID=b2 skillcall
  SKILLSWAP_RELAY=sqlite://signals.db SKILLSWAP_CALL_ID=room-42 \
    SKILLSWAP_SELF_ID=b2 SKILLSWAP_PEER_ID=a1 SKILLSWAP_RECORD_DIR=out skillcall

  # Play the recording
  ffplay out/remote.ivf

Options:
  -h, --help  Show this help message
`

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-h" || os.Args[1] == "--help") {
		fmt.Print(helpText)
		os.Exit(0)
	}
	os.Exit(run())
}

func run() int {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}).
		With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("load config")
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer ossignal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			log.Info().Str("signal", sig.String()).Msg("shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	// Step 1: Resolve who we are calling
	callID, local, remote := cfg.CallID, cfg.Self, cfg.Peer
	if cfg.MatchID != "" {
		var opts []api.Option
		if cfg.APIToken != "" {
			opts = append(opts, api.WithAccessToken(cfg.APIToken))
		}
		apiClient := api.NewClient(cfg.APIURL, cfg.APIKey, opts...)
		local, remote, err = apiClient.ResolveMatch(ctx, cfg.MatchID, cfg.Self.ID)
		if err != nil {
			log.Error().Err(err).Str("match_id", cfg.MatchID).Msg("resolve match")
			return 1
		}
		if callID == "" {
			callID = cfg.MatchID
		}
	}
	cs, err := domain.NewCallSession(callID, local, remote)
	if err != nil {
		log.Error().Err(err).Msg("call session")
		return 1
	}
	log.Info().
		Str("call_id", cs.CallID).
		Str("self", cs.Local.ID).
		Str("peer", cs.Remote.ID).
		Str("role", cs.Role().String()).
		Msg("joining call")

	// Step 2: Open the session
	var session call.Session
	var recorder *webrtc.Recorder
	switch cfg.Mode {
	case config.ModeHosted:
		session = call.NewHostedRoom(call.HostedConfig{
			Session:     cs,
			Preferences: cfg.Media,
			Domain:      cfg.HostedDomain,
			Open: func(_ context.Context, roomURL string) error {
				fmt.Println(roomURL)
				return nil
			},
		})

	default:
		channel, closeChannel, err := openRelay(ctx, cfg.Relay)
		if err != nil {
			log.Error().Err(err).Str("relay", cfg.Relay).Msg("open relay")
			return 1
		}
		defer closeChannel()

		devices, err := media.NewDevices(log.With().Str("component", "devices").Logger())
		if err != nil {
			log.Error().Err(err).Msg("media devices")
			return 1
		}

		if cfg.RecordDir != "" {
			recorder, err = webrtc.NewRecorder(cfg.RecordDir, log.With().Str("component", "recorder").Logger())
			if err != nil {
				log.Error().Err(err).Msg("recorder")
				return 1
			}
		}

		iceServers := cfg.ICEServers
		session = call.NewPeerSession(call.SessionConfig{
			Session:      cs,
			Preferences:  cfg.Media,
			Acquirer:     media.NewAcquirer(devices),
			Signaling:    channel,
			ReplayWindow: cfg.ReplayWindow,
			NewPeer: func(context.Context) (domain.Peer, error) {
				return webrtc.NewPeer(webrtc.Config{
					ICEServers:     iceServers,
					RegisterCodecs: devices.RegisterCodecs,
				})
			},
			Hook: func(ev call.Event) {
				e := log.Debug().Str("event", string(ev.Type)).Str("detail", ev.Detail)
				if ev.Err != nil {
					e = e.AnErr("event_err", ev.Err)
				}
				e.Msg("negotiation")
			},
		})
	}

	// Step 3: Start media and negotiation
	if err := session.Start(ctx); err != nil {
		reportFailure(err)
		_ = session.End()
		return 1
	}

	// Step 4: Follow the session until the user quits or the call drops
	updates, stop := session.Watch()
	defer stop()
	exitCode := follow(ctx, updates, recorder)

	if err := session.End(); err != nil {
		log.Warn().Err(err).Msg("end call")
	}
	if recorder != nil {
		recorder.Wait()
	}
	log.Info().Msg("done")
	return exitCode
}

// follow logs status changes and starts recording remote tracks as they
// arrive. It returns once ctx ends or the call disconnects.
func follow(ctx context.Context, updates <-chan call.Snapshot, recorder *webrtc.Recorder) int {
	recorded := make(map[string]bool)
	status := domain.StatusConnecting
	connectingSince := time.Now()

	for {
		select {
		case <-ctx.Done():
			return 0
		case snap, ok := <-updates:
			if !ok {
				return 0
			}
			if recorder != nil && snap.Remote != nil {
				for _, t := range snap.Remote.Tracks {
					if !recorded[t.ID()] {
						recorded[t.ID()] = true
						recorder.Record(t)
					}
				}
			}
			if snap.Status == status {
				continue
			}
			status = snap.Status
			switch status {
			case domain.StatusConnected:
				log.Info().Dur("after", time.Since(connectingSince)).Msg("call connected")
			case domain.StatusDisconnected:
				reportFailure(snap.Err)
				return 1
			}
		}
	}
}

func reportFailure(err error) {
	e := log.Error().Err(err).Str("kind", domain.KindOf(err).String())
	switch domain.KindOf(err) {
	case domain.KindMediaPermissionDenied:
		e.Msg("camera or microphone access denied; allow it in system settings or continue in chat")
	case domain.KindMediaDeviceNotFound:
		e.Msg("no camera or microphone found; set SKILLSWAP_WANT_VIDEO=false or continue in chat")
	case domain.KindPeerConnectionFailed:
		e.Msg("call disconnected; start it again or continue in chat")
	default:
		if domain.Retryable(err) {
			e.Msg("call failed; retry or continue in chat")
			return
		}
		e.Msg("call failed")
	}
}

// openRelay returns the signaling channel named by relay and a func that
// releases it.
func openRelay(ctx context.Context, relay string) (domain.SignalingChannel, func(), error) {
	u, err := url.Parse(relay)
	if err != nil {
		return nil, nil, fmt.Errorf("parse relay url: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
		c, err := sigclient.Dial(ctx, relay)
		if err != nil {
			return nil, nil, err
		}
		return c, closer(c), nil

	case "sqlite":
		path := strings.TrimPrefix(relay, "sqlite://")
		store, err := sqlite.Open(path)
		if err != nil {
			return nil, nil, err
		}
		return sqlite.NewRelay(store), closer(store), nil

	case "mongodb", "mongodb+srv":
		dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		r, client, err := mongodb.Connect(dialCtx, relay, nil)
		if err != nil {
			return nil, nil, err
		}
		return r, func() {
			if err := client.Disconnect(context.Background()); err != nil {
				log.Warn().Err(err).Msg("disconnect mongodb")
			}
		}, nil
	}
	return nil, nil, fmt.Errorf("unsupported relay scheme %q", u.Scheme)
}

func closer(c io.Closer) func() {
	return func() {
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Msg("close relay")
		}
	}
}
