// Copyright 2025 the resinctl authors
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// resinctl is the command line client of the resinctl system. It talks to a
// resinagent over its HTTP/JSON API.
package main

import (
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"

	"golang.org/x/net/http2"

	"github.com/xmodpt/resinctl/internal/buildinfo"
)

const usageAbstract = `resinctl - The client application of the resinctl system.
`

const usageSynopsis = `
SYNOPSIS:
	resinctl [options] status
	resinctl [options] connect | disconnect
	resinctl [options] send <gcode>
	resinctl [options] print start [file] | pause | resume | stop
	resinctl [options] move <distance-mm>
	resinctl [options] home
	resinctl [options] reboot
	resinctl [options] files [delete <name> | info <name>]
	resinctl [options] settings [reset]
	resinctl [options] addons
	resinctl [options] addon <name> [args...]
	resinctl [options] macros
	resinctl [options] macro <name> [key=value...]
	resinctl [options] usb status|start|stop|recover
	resinctl version

`

const usageDescription = `
resinctl sends every operation to the resinagent named by the -s option and
prints the agent's JSON responses.

The send command performs a raw G-code exchange with the printer. Quote the
gcode string when it spans multiple lines.

`

const serverAddrInfo = `Address and port of the resinagent to connect to in the format: address:port`

type application struct {
	stdout   io.Writer
	stderr   io.Writer
	exitFunc func(int)

	// flags
	serverAddr        string
	args              []string
	printFlagDefaults func()

	client *http.Client
}

func newApp(stdout, stderr io.Writer, exitFunc func(int), args []string) *application {
	var app application

	app.stdout = stdout
	app.stderr = stderr
	app.exitFunc = exitFunc

	fs := flag.NewFlagSet(args[0], flag.ExitOnError)
	fs.SetOutput(stderr)

	app.printFlagDefaults = func() {
		fmt.Fprint(stderr, "OPTIONS:\n")
		fs.PrintDefaults()
	}
	fs.Usage = func() {
		fmt.Fprint(stderr, usageAbstract, usageSynopsis, usageDescription)
		app.printFlagDefaults()
	}

	fs.StringVar(&app.serverAddr, "s", "localhost:8080", serverAddrInfo)

	//nolint:errcheck // flag.Parse always returns no error because of flag.ExitOnError
	fs.Parse(args[1:])
	app.args = fs.Args()

	app.client = newInsecureClient()

	return &app
}

// newInsecureClient speaks HTTP/2 without TLS, matching the agent's h2c
// server, and falls back to HTTP/1 transparently.
func newInsecureClient() *http.Client {
	return &http.Client{
		Transport: &http2.Transport{
			AllowHTTP: true,
			DialTLS: func(network, addr string, _ *tls.Config) (net.Conn, error) {
				//nolint:noctx
				return net.Dial(network, addr)
			},
		},
	}
}

var errInvalidCmdline = fmt.Errorf("invalid command line")

func main() {
	newApp(os.Stdout, os.Stderr, os.Exit, os.Args).start()
}

func (app *application) start() {
	if len(app.args) == 0 {
		app.exit(errInvalidCmdline)
	}

	if app.args[0] == "version" {
		fmt.Fprint(app.stdout, buildinfo.VersionString())
		app.exit(nil)
	}

	err := app.dispatch(app.args[0], app.args[1:])
	app.exit(err)
}

// exit terminates the application. If the provided error is not nil, it is
// printed to the standard error output.
func (app *application) exit(err error) {
	if err == nil {
		app.exitFunc(0)

		return
	}

	fmt.Fprintln(app.stderr, err)

	if errors.Is(err, errInvalidCmdline) {
		fmt.Fprint(app.stderr, usageSynopsis)
		app.printFlagDefaults()
	}

	app.exitFunc(1)
}
