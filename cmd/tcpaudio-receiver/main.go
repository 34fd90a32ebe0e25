/*
NAME
  main.go

DESCRIPTION
  tcpaudio-receiver accepts incoming sender connections, resamples each
  session's audio to the local device rate, and plays it back.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// tcpaudio-receiver accepts incoming sender connections, resamples each
// session's audio to the local device rate, and plays it back.
//
// Playback is driven by audio.SimHost ticked at a fixed period: the
// reference material this module is grounded on exercises the yobert/alsa
// binding only for capture (see device/alsa/alsa.go), with no playback
// call anywhere in the corpus to ground a real ALSA output path on, so
// tcpaudio-receiver drives its own clock rather than fabricate one. A
// future Host backed by a binding with a grounded write path can be
// substituted without changing package receiver.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/ausocean/tcpaudio/audio"
	"github.com/ausocean/tcpaudio/diagnostics"
	"github.com/ausocean/tcpaudio/receiver"
	"github.com/ausocean/utils/logging"
)

// Logging configuration.
const (
	logPath      = "/var/log/tcpaudio/tcpaudio-receiver.log"
	logMaxSize   = 100 // MB
	logMaxBackup = 5
	logMaxAge    = 28 // days
	logSuppress  = true
)

const (
	defaultDeviceRate = 48000
	defaultPeriod     = 256
	tickInterval      = (defaultPeriod * time.Second) / defaultDeviceRate
	defaultPort       = 8080
	defaultBaseName   = "system:playback"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: tcpaudio-receiver [-b baseName] [-p port] [-h]\n")
	flag.PrintDefaults()
}

func main() {
	baseName := flag.String("b", defaultBaseName, "Base string for the downstream playback target; the single mixed playback port input_local_1 is connected to <baseName>0. No per-session ports are registered.")
	port := flag.Int("p", defaultPort, "Port to listen for incoming sender connections on.")
	help := flag.Bool("h", false, "Print usage and exit.")
	diagPath := flag.String("diag", "", "Path to a SQLite database for per-session diagnostics; empty disables diagnostics.")
	logLevel := flag.Int("LogLevel", int(logging.Info), "Logging verbosity (Debug=0, Info=1, Warning=2, Error=3).")
	flag.Usage = usage
	flag.Parse()

	if *help {
		usage()
		os.Exit(0)
	}
	if flag.NArg() > 0 {
		usage()
		os.Exit(1)
	}

	fileLog := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    logMaxSize,
		MaxBackups: logMaxBackup,
		MaxAge:     logMaxAge,
	}
	log := logging.New(int8(*logLevel), io.MultiWriter(fileLog, os.Stderr), logSuppress)

	r := receiver.New(defaultDeviceRate, log)
	if *diagPath != "" {
		store, err := diagnostics.Open(*diagPath)
		if err != nil {
			log.Fatal("failed to open diagnostics store", "error", err.Error())
		}
		defer store.Close()
		r.SetDiagnostics(store)
	}

	bind := ":" + strconv.Itoa(*port)
	if err := r.Listen(bind); err != nil {
		log.Fatal("failed to listen", "error", err.Error())
	}
	log.Info("receiver listening", "addr", bind)

	const outputChannels = 2
	simHost := audio.NewSimHost(defaultDeviceRate)
	playPort, err := simHost.RegisterPort("input_local_1", audio.PortOutput)
	if err != nil {
		log.Fatal("failed to register playback port", "error", err.Error())
	}
	if err := simHost.Connect(playPort, *baseName+"0"); err != nil {
		log.Fatal("failed to connect playback port", "error", err.Error())
	}
	simHost.SetCallback(func(nframes int) {
		mix := make([]float32, nframes*outputChannels)
		buf := make([]float32, nframes*outputChannels)
		for _, s := range r.Sessions() {
			n := s.NChannel()
			if n == 0 {
				continue
			}
			sessionBuf := buf[:nframes*n]
			s.PlaybackCallback(sessionBuf)
			for f := 0; f < nframes; f++ {
				for c := 0; c < outputChannels; c++ {
					mix[f*outputChannels+c] += sessionBuf[f*n+c%n]
				}
			}
		}
		copy(playPort.Buffer(nframes*outputChannels), mix)
	})
	if err := simHost.Activate(); err != nil {
		log.Fatal("failed to activate playback host", "error", err.Error())
	}

	stop := make(chan struct{})
	go func() {
		t := time.NewTicker(tickInterval)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				simHost.Tick(defaultPeriod)
			}
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	close(stop)
	r.Close()
}
