package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mohsenil85/tuidaw"
	"github.com/mohsenil85/tuidaw/engine"
	"github.com/mohsenil85/tuidaw/midi"
	"github.com/mohsenil85/tuidaw/scsynth"
)

func main() {
	addr := flag.String("addr", "", "scsynth UDP address; overrides the config file.")
	configPath := flag.String("config", "tuidaw.yml", "Path to the engine config file. A missing file uses the defaults.")
	synthDefs := flag.String("synthdefs", "", "Directory of compiled synthdefs (*.scsyndef) to upload on startup.")
	midiPrefix := flag.String("midi", "", "Open the first MIDI input whose name starts with this prefix.")
	listMIDI := flag.Bool("list-midi", false, "List MIDI inputs and exit.")
	play := flag.Bool("p", false, "Start playback immediately.")
	bpm := flag.Float64("bpm", 0, "Override the song tempo.")
	flag.Usage = printUsage
	flag.Parse()

	if *listMIDI {
		ctx := midi.NewContext()
		defer ctx.Close()
		for _, name := range ctx.Devices() {
			fmt.Println(name)
		}
		return
	}

	cfg, err := tuidaw.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not load config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.ServerAddr = *addr
	}

	session := demoSession(&cfg)
	if flag.NArg() > 0 {
		session, err = tuidaw.LoadSession(flag.Arg(0))
		if err != nil {
			fmt.Fprintf(os.Stderr, "could not load session: %v\n", err)
			os.Exit(1)
		}
	}
	if *bpm > 0 {
		session.Song.BPM = *bpm
	}

	client, err := scsynth.Connect(cfg.ServerAddr, time.Duration(cfg.AheadSeconds*float64(time.Second)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not connect to scsynth at %v: %v\n", cfg.ServerAddr, err)
		os.Exit(1)
	}
	if *synthDefs != "" {
		if err := client.LoadSynthDefs(*synthDefs); err != nil {
			fmt.Fprintf(os.Stderr, "could not upload synthdefs: %v\n", err)
			os.Exit(1)
		}
	}

	eng := engine.New(&cfg, client)
	if err := eng.Rebuild(&session.Rack); err != nil {
		fmt.Fprintf(os.Stderr, "could not realize rack: %v\n", err)
		os.Exit(1)
	}
	eng.SetSong(&session.Song)

	midiCtx := midi.NewContext()
	defer midiCtx.Close()
	if *midiPrefix != "" {
		if err := midiCtx.Open(*midiPrefix); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
		}
	}
	target := firstVoicedModule(&session.Rack)

	if *play {
		eng.Play(session.Song.LoopStart)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	ticker := time.NewTicker(16 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			for {
				ev, ok := midiCtx.NextEvent()
				if !ok {
					break
				}
				if target == 0 {
					continue
				}
				if ev.On && ev.Velocity > 0 {
					if err := eng.NoteOn(target, ev.Note, ev.Velocity); err != nil {
						fmt.Fprintf(os.Stderr, "note on: %v\n", err)
					}
				} else {
					eng.NoteOff(target, ev.Note)
				}
			}
			eng.Frame(now)
		case <-sigs:
			eng.Stop()
			eng.Close()
			return
		}
	}
}

// demoSession is what plays when no session file is given: one saw voice
// through a low-pass filter into the output, looping a four-note line.
func demoSession(cfg *tuidaw.Config) *tuidaw.Session {
	saw := tuidaw.NewModule(1, tuidaw.SawOsc)
	lpf := tuidaw.NewModule(2, tuidaw.LPF)
	out := tuidaw.NewModule(3, tuidaw.Output)
	tpb := tuidaw.Tick(cfg.TicksPerBeat)
	return &tuidaw.Session{
		Rack: tuidaw.Rack{
			Modules: []tuidaw.Module{saw, lpf, out},
			Connections: []tuidaw.Connection{
				{From: saw.ID, FromPort: "out", To: lpf.ID, ToPort: "in"},
				{From: lpf.ID, FromPort: "out", To: out.ID, ToPort: "in"},
			},
		},
		Song: tuidaw.Song{
			BPM:           cfg.BPM,
			TicksPerBeat:  cfg.TicksPerBeat,
			TimeSignature: cfg.TimeSignature,
			Looping:       true,
			LoopStart:     0,
			LoopEnd:       4 * tpb,
			Tracks: []tuidaw.NoteTrack{{
				Module: saw.ID,
				Notes: []tuidaw.Note{
					{Tick: 0, Duration: tpb / 2, Pitch: 57, Velocity: 100},
					{Tick: tpb, Duration: tpb / 2, Pitch: 60, Velocity: 90},
					{Tick: 2 * tpb, Duration: tpb / 2, Pitch: 64, Velocity: 90},
					{Tick: 3 * tpb, Duration: tpb / 2, Pitch: 67, Velocity: 100},
				},
			}},
		},
	}
}

func firstVoicedModule(rack *tuidaw.Rack) tuidaw.ModuleID {
	for _, m := range rack.Modules {
		if m.Enabled && m.Kind.Spec().Voiced {
			return m.ID
		}
	}
	return 0
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "tuidaw engine: drives an scsynth server from a session file.\nUsage: %s [flags] [session.yml]\n", os.Args[0])
	flag.PrintDefaults()
}
