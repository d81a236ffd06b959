// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"reactor/internal/audio"
	"reactor/internal/config"
	"reactor/internal/log"
	"reactor/internal/profile"
	"reactor/internal/transport"
	"reactor/internal/transport/udp"
	"reactor/internal/tui"
	"reactor/internal/visualizer"
)

func newRunCommand(opts *options) *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the visualizer on a track, an input device or the idle animation",
		Long: "Run analyses a track (--file), an input device (--device or --pick) or, with neither,\n" +
			"drives the idle animation. Frames are published over WebSocket and UDP when enabled.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.file != "" && (cmd.Flags().Changed("device") || opts.pick) {
				return fmt.Errorf("--file cannot be combined with --device or --pick")
			}
			app, live, err := loadConfig(opts)
			if err != nil {
				return err
			}
			applyRunFlags(cmd, opts, app)
			return runEngine(cmd.Context(), opts, app, live)
		},
	}

	f := runCmd.Flags()
	f.StringVarP(&opts.file, "file", "f", "", "Play and analyse an audio file (wav, mp3, flac, ogg)")
	f.BoolVar(&opts.silent, "silent", false, "Analyse the file in real time without playback")
	f.IntVarP(&opts.device, "device", "d", config.DefaultDeviceID,
		"Capture from input device ID. Use 'list' command to see available devices.")
	f.Float64VarP(&opts.sampleRate, "sample-rate", "s", 0, "Capture sample rate in Hz (default from config)")
	f.BoolVarP(&opts.pick, "pick", "p", false, "Choose the input device interactively")
	f.BoolVarP(&opts.tui, "tui", "t", false, "Show the live monitor with tuning knobs")
	f.StringVarP(&opts.record, "record", "r", "", "Record captured device input to this WAV file")
	f.StringVar(&opts.wsAddr, "ws", "", "Serve frames over WebSocket on this address (e.g. :8080)")
	f.StringVar(&opts.udpTarget, "udp", "", "Send reaction packets to this UDP address (e.g. 127.0.0.1:9090)")
	return runCmd
}

// applyRunFlags lets explicit flags override the config file.
func applyRunFlags(cmd *cobra.Command, opts *options, app *config.App) {
	if cmd.Flags().Changed("device") {
		app.Audio.InputDevice = opts.device
		opts.capture = true
	}
	if opts.sampleRate > 0 {
		app.Audio.SampleRate = opts.sampleRate
	}
	if opts.record != "" {
		app.Audio.RecordTo = opts.record
	}
	if opts.wsAddr != "" {
		app.Transport.WebSocketEnabled = true
		app.Transport.WebSocketAddr = opts.wsAddr
	}
	if opts.udpTarget != "" {
		app.Transport.UDPEnabled = true
		app.Transport.UDPTargetAddress = opts.udpTarget
	}
}

// session is one run's source and the hooks that drive it.
type session struct {
	source  audio.Source
	probe   audio.CapabilityProbe
	track   string
	start   func(ctx context.Context, vis *visualizer.Visualizer) error
	done    <-chan struct{}
	cleanup []func()
}

func (s *session) close() {
	for i := len(s.cleanup) - 1; i >= 0; i-- {
		s.cleanup[i]()
	}
}

func runEngine(ctx context.Context, opts *options, app *config.App, live *config.Live) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sess, err := openSession(opts, app)
	if err != nil {
		var initErr *audio.InitializationError
		if !errors.As(err, &initErr) {
			return err
		}
		// The idle animation keeps running without a source.
		log.Warnf("Run: %v", err)
		sess = &session{}
	}
	defer sess.close()

	vis, err := visualizer.New(live, visualizer.ConfigFrom(app), visualizer.WithProbe(sess.probe))
	if err != nil {
		return err
	}
	defer vis.Close()

	if err := attachTransports(app, vis); err != nil {
		return err
	}

	if sess.source != nil {
		if err := vis.Initialize(sess.source); err == nil && sess.track != "" {
			vis.LoadTrack(sess.track)
		}
	}
	if err := vis.Start(); err != nil {
		log.Warnf("Run: %v", err)
	}
	if sess.start != nil {
		if err := sess.start(ctx, vis); err != nil {
			return err
		}
	}

	if opts.tui {
		return tui.RunMonitor(vis, app.Analysis.SettingsFile)
	}

	select {
	case <-ctx.Done():
	case <-sess.done:
		log.Infof("Run: Track finished")
	}
	return nil
}

// openSession opens the source selected by the flags. Without a file or a
// device the session has no source and only the idle animation runs.
func openSession(opts *options, app *config.App) (*session, error) {
	switch {
	case opts.file != "" && opts.silent:
		return fileSession(opts.file, app)
	case opts.file != "":
		return playerSession(opts.file)
	case opts.pick || opts.capture || app.Audio.InputDevice != config.DefaultDeviceID:
		return deviceSession(opts, app)
	default:
		return &session{}, nil
	}
}

func playerSession(path string) (*session, error) {
	player, err := audio.OpenPlayer(path)
	if err != nil {
		return nil, err
	}
	log.Infof("Run: Playing %s", player.Title())
	return &session{
		source: player,
		probe:  audio.OtoProbe(int(player.SampleRate())),
		track:  profile.TrackID(path),
		start: func(ctx context.Context, vis *visualizer.Visualizer) error {
			player.Play()
			vis.SetMusicPlaying(true)
			go func() {
				select {
				case <-player.Done():
					vis.SetMusicPlaying(false)
				case <-ctx.Done():
				}
			}()
			return nil
		},
		done:    player.Done(),
		cleanup: []func(){func() { player.Close() }},
	}, nil
}

func fileSession(path string, app *config.App) (*session, error) {
	src, err := audio.OpenFileSource(path, app.Audio.FramesPerBuffer)
	if err != nil {
		return nil, err
	}
	done := make(chan struct{})
	return &session{
		source: src,
		track:  profile.TrackID(path),
		start: func(ctx context.Context, vis *visualizer.Visualizer) error {
			vis.SetMusicPlaying(true)
			go func() {
				defer close(done)
				if err := src.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Errorf("Run: Streaming %s failed: %v", path, err)
				}
				vis.SetMusicPlaying(false)
			}()
			return nil
		},
		done:    done,
		cleanup: []func(){func() { src.Close() }},
	}, nil
}

func deviceSession(opts *options, app *config.App) (*session, error) {
	if err := audio.Initialize(); err != nil {
		return nil, &audio.InitializationError{Source: "portaudio", Err: err}
	}
	sess := &session{
		probe:   audio.PortAudioProbe,
		cleanup: []func(){func() { audio.Terminate() }},
	}

	if opts.pick {
		choice, err := tui.PickDevice()
		if err != nil {
			sess.close()
			return nil, err
		}
		if choice == nil {
			sess.close()
			return nil, fmt.Errorf("no input device selected")
		}
		app.Audio.InputDevice = choice.Device.ID
		app.Audio.SampleRate = choice.SampleRate
	}

	ds, err := audio.NewDeviceSource(app.Audio)
	if err != nil {
		sess.close()
		return nil, err
	}
	sess.source = ds
	sess.cleanup = append(sess.cleanup, func() { ds.Close() })
	sess.start = func(ctx context.Context, vis *visualizer.Visualizer) error {
		if err := ds.Start(); err != nil {
			return err
		}
		// Live capture has no track boundaries; treat it as continuous playback.
		vis.SetMusicPlaying(true)
		if app.Audio.RecordTo != "" {
			if err := ds.StartRecording(app.Audio.RecordTo); err != nil {
				return err
			}
			sess.cleanup = append(sess.cleanup, func() {
				if err := ds.StopRecording(); err != nil {
					log.Errorf("Run: Stopping recording: %v", err)
					return
				}
				log.Infof("Run: Recording saved to %s", app.Audio.RecordTo)
			})
		}
		return nil
	}
	return sess, nil
}

// attachTransports wires the configured frame publishers into vis.
func attachTransports(app *config.App, vis *visualizer.Visualizer) error {
	if app.Debug {
		vis.AddTransport(transport.NewLoggingTransport())
	}
	if app.Transport.WebSocketEnabled {
		ws, err := transport.NewWebSocketTransport(app.Transport.WebSocketAddr)
		if err != nil {
			return fmt.Errorf("websocket transport: %w", err)
		}
		vis.AddTransport(ws)
	}
	if app.Transport.UDPEnabled {
		sender, err := udp.NewUDPSender(app.Transport.UDPTargetAddress)
		if err != nil {
			return err
		}
		pub, err := udp.NewUDPPublisher(app.Transport.UDPSendInterval, sender, vis.Store())
		if err != nil {
			sender.Close()
			return err
		}
		pub.Start()
		vis.AddTransport(&udpTransport{pub: pub, sender: sender})
	}
	return nil
}

// udpTransport ties the UDP publisher's lifetime to the visualizer. Packets
// are paced by the publisher, so frames are not forwarded.
type udpTransport struct {
	pub    *udp.UDPPublisher
	sender *udp.UDPSender
}

func (u *udpTransport) Send(any) error { return nil }

func (u *udpTransport) Close() error {
	return errors.Join(u.pub.Close(), u.sender.Close())
}

var _ transport.Transport = (*udpTransport)(nil)
