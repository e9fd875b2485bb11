// Copyright 2025 the resinctl authors
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// resinagent is the control agent of the resinctl system. It runs on a
// single board computer wired to a resin printer's serial line and exposes
// the printer, the print file store and the configured addons over an
// HTTP/JSON API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/xmodpt/resinctl/internal/api"
	"github.com/xmodpt/resinctl/internal/buildinfo"
	"github.com/xmodpt/resinctl/internal/camera"
	"github.com/xmodpt/resinctl/internal/macro"
	"github.com/xmodpt/resinctl/internal/settings"
	"github.com/xmodpt/resinctl/internal/store"
	"github.com/xmodpt/resinctl/internal/telemetry"
	"github.com/xmodpt/resinctl/internal/thumb"
	"github.com/xmodpt/resinctl/internal/usbgadget"
	"github.com/xmodpt/resinctl/pkg/portal"
	"github.com/xmodpt/resinctl/pkg/printer"

	_ "github.com/xmodpt/resinctl/pkg/addon/pimonitor"
	_ "github.com/xmodpt/resinctl/pkg/addon/relay"
)

const defaultConfigPath = "/etc/resinctl/agent.yaml"

func printInitErr(err error) {
	var initerr *portal.AddonInitError
	if errors.As(err, &initerr) {
		for _, item := range initerr.Errs {
			log.Printf("init addon %q failed with:\n%v\n", item.Addon, item.Err)
		}
	}

	log.Print(err)
}

// cleanup takes care of a graceful shutdown of the service and calls os.Exit
// afterwards. If clean-up fails, os.Exit is called with code 1, otherwise
// os.Exit is called with exitcode.
func cleanup(addons portal.Addonlist, ctrl *printer.Controller, pub *telemetry.Publisher, exitcode int) {
	failed := false

	if pub != nil {
		pub.Close()
	}

	if ctrl != nil && ctrl.Connected() {
		if err := ctrl.Disconnect(); err != nil {
			log.Printf("disconnect printer: %v", err)

			failed = true
		}
	}

	if addons != nil {
		if err := portal.Deinit(addons); err != nil {
			printInitErr(err)
			log.Fatal("System might be in an UNKNOWN STATE !!!")
		}
	}

	if failed {
		os.Exit(1)
	}

	os.Exit(exitcode)
}

func main() {
	var (
		configPath = flag.String("c", defaultConfigPath, "Path to the agent configuration file")
		listenAddr = flag.String("l", "", "Listen address, overrides the configuration file")
		version    = flag.Bool("version", false, "Print version information and exit")
	)

	flag.Parse()

	if *version {
		fmt.Print(buildinfo.VersionString())
		os.Exit(0)
	}

	cfg, err := portal.Load(*configPath)
	if err != nil {
		//nolint:gocritic
		log.Fatal(err)
	}

	if *listenAddr != "" {
		cfg.Listen = *listenAddr
	}

	var (
		ctrl *printer.Controller
		pub  *telemetry.Publisher
	)

	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic: %v", r)
			cleanup(cfg.Addons, ctrl, pub, 1)
		}
	}()

	if err := portal.Init(cfg.Addons); err != nil {
		printInitErr(err)
		cleanup(cfg.Addons, nil, nil, 1)
	}

	ctrl = printer.NewController(printer.Config{
		Port:        cfg.Serial.Port,
		Baud:        cfg.Serial.Baud,
		BaseTimeout: cfg.Serial.Timeout,
		AckToken:    cfg.Serial.Ack,
	})

	if err := ctrl.Connect(context.Background()); err != nil {
		// The agent stays useful for file management without a printer.
		log.Printf("printer not connected yet: %v", err)
	}

	fileStore, err := store.New(cfg.Storage.Dir, cfg.Storage.MaxBytes)
	if err != nil {
		log.Print(err)
		cleanup(cfg.Addons, ctrl, nil, 1)
	}

	thumbs, err := thumb.NewManager(cfg.Storage.ThumbDir)
	if err != nil {
		log.Print(err)
		cleanup(cfg.Addons, ctrl, nil, 1)
	}

	usb := usbgadget.NewManager()
	if cfg.Storage.Image != "" {
		usb.ImagePath = cfg.Storage.Image
	}

	var cam *camera.Camera
	if cfg.Camera.Enabled {
		cam = camera.New(cfg.Camera.Port)
	}

	if cfg.MQTT.Broker != "" {
		pub, err = telemetry.NewPublisher(telemetry.Config{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		})
		if err != nil {
			log.Printf("telemetry disabled: %v", err)
		}
	}

	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	defer stopMonitor()

	monitor := &printer.Monitor{Controller: ctrl}
	if pub != nil {
		monitor.OnStatus = func(status printer.Status) {
			if err := pub.PublishStatus(status); err != nil {
				log.Printf("telemetry publish: %v", err)
			}
		}
	}

	go monitor.Run(monitorCtx)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

	go func() {
		sig := <-c
		log.Printf("Captured signal: %v", sig)
		stopMonitor()
		cleanup(cfg.Addons, ctrl, pub, 0)
	}()

	server := &api.Server{
		Controller: ctrl,
		Store:      fileStore,
		Thumbs:     thumbs,
		USB:        usb,
		Camera:     cam,
		Settings:   settings.NewManager("/etc/resinctl/app_settings.json"),
		Addons:     cfg.Addons,
		Macros:     macro.NewSet(cfg.Macros),
	}

	log.Printf("resinagent listening on %s", cfg.Listen)

	//nolint:gosec
	err = http.ListenAndServe(
		cfg.Listen,
		// Use h2c so we can serve HTTP/2 without TLS.
		h2c.NewHandler(server.Handler(), &http2.Server{}),
	)

	log.Printf("HTTP server error: %v", err)
	cleanup(cfg.Addons, ctrl, pub, 1)
}
