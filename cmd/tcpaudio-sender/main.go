/*
NAME
  main.go

DESCRIPTION
  tcpaudio-sender captures audio from a host device and streams it over TCP
  to a tcpaudio-receiver, reconnecting automatically if the connection
  drops.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// tcpaudio-sender captures audio from a host device and streams it over TCP
// to a receiver.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/ausocean/tcpaudio/audio"
	"github.com/ausocean/tcpaudio/sender"
	"github.com/ausocean/utils/logging"
)

// Logging configuration.
const (
	logPath      = "/var/log/tcpaudio/tcpaudio-sender.log"
	logMaxSize   = 100 // MB
	logMaxBackup = 5
	logMaxAge    = 28 // days
	logSuppress  = true
)

// Capture device defaults. Per spec.md §6 the sender's CLI surface is
// limited to the destination address, the source port base name, usage,
// and log level; device selection is not flag-configurable and uses sensible
// fixed defaults instead.
const (
	defaultAddr       = "localhost:8080"
	defaultBaseName   = "system:playback"
	defaultDeviceRate = 48000
	defaultChannels   = 2
	defaultBitDepth   = 16
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: tcpaudio-sender [-u host[:port]] [-b baseName] [-h]\n")
	flag.PrintDefaults()
}

func main() {
	addr := flag.String("u", defaultAddr, "Destination host[:port] to stream to.")
	baseName := flag.String("b", defaultBaseName, "Base string for source port routing targets; output_TCP_<i+1> is connected to <baseName><i> (the ALSA capture host performs no routing).")
	help := flag.Bool("h", false, "Print usage and exit.")
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

	log.Info("opening capture device", "rate", defaultDeviceRate, "channels", defaultChannels)
	host, err := audio.OpenAlsaHost(log, audio.AlsaConfig{
		SampleRate: defaultDeviceRate,
		Channels:   defaultChannels,
		BitDepth:   defaultBitDepth,
	})
	if err != nil {
		log.Fatal("failed to open ALSA capture device", "error", err.Error())
	}
	defer host.Close()

	s := sender.New(sender.Config{
		Addr:       *addr,
		SampleRate: host.SampleRate(),
		NChannel:   uint32(defaultChannels),
	}, log)

	// Register NPORT named capture ports, one per channel, each connected
	// to <baseName><i> (AlsaHost.Connect records no routing); the first is
	// the one the
	// real-time callback reads the (shared, interleaved) capture buffer
	// from, since the device delivers one multichannel stream regardless
	// of how many named ports route it.
	var ports [defaultChannels]audio.Port
	for i := 0; i < defaultChannels; i++ {
		p, err := host.RegisterPort("output_TCP_"+strconv.Itoa(i+1), audio.PortInput)
		if err != nil {
			log.Fatal("failed to register capture port", "error", err.Error())
		}
		if err := host.Connect(p, *baseName+strconv.Itoa(i)); err != nil {
			log.Fatal("failed to connect capture port", "error", err.Error())
		}
		ports[i] = p
	}
	host.SetCallback(func(nframes int) {
		s.Callback(ports[0], defaultChannels, nframes)
	})

	s.Start()
	if err := host.Activate(); err != nil {
		log.Fatal("failed to activate audio host", "error", err.Error())
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	s.Stop()
}
