// ponyctl is the ops utility for the event bus: craft archived event
// batches, publish them to a topic, or resync every connection the
// orchestrator knows about onto the shared topic.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ponyhq/pony/internal/apiclient"
	"github.com/ponyhq/pony/internal/bus"
	"github.com/ponyhq/pony/internal/logging"
	"github.com/ponyhq/pony/internal/model"
)

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	switch os.Args[1] {
	case "gen":
		runGen(os.Args[2:])
	case "send":
		runSend(os.Args[2:])
	case "all":
		runAll(os.Args[2:])
	default:
		usage()
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: ponyctl <command> [flags]

commands:
  gen   encode a JSON message batch into an archived frame
  send  publish an archived frame to a bus topic
  all   fetch every connection and republish it on the shared topic`)
	os.Exit(2)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

// runGen reads a JSON array of messages and writes the archived frame, so
// broken batches are caught at craft time rather than at the subscribers.
func runGen(args []string) {
	fs := flag.NewFlagSet("gen", flag.ExitOnError)
	in := fs.String("in", "-", "JSON message batch ('-' for stdin)")
	out := fs.String("out", "-", "Output frame file ('-' for stdout)")
	fs.Parse(args)

	raw, err := readInput(*in)
	if err != nil {
		fatal("read input: %v", err)
	}

	var msgs []bus.Message
	if err := json.Unmarshal(raw, &msgs); err != nil {
		fatal("parse message batch: %v", err)
	}
	if len(msgs) == 0 {
		fatal("empty message batch")
	}

	frame, err := bus.Encode(msgs)
	if err != nil {
		fatal("encode: %v", err)
	}
	if err := writeOutput(*out, frame); err != nil {
		fatal("write frame: %v", err)
	}
	fmt.Fprintf(os.Stderr, "encoded %d messages (%d bytes)\n", len(msgs), len(frame))
}

// runSend publishes a pre-encoded frame. The frame is decoded first: a frame
// ponyctl cannot parse would be dropped by every subscriber anyway.
func runSend(args []string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	busURL := fs.String("bus", nats.DefaultURL, "Bus URL")
	prefix := fs.String("prefix", "pony.events", "Subject prefix")
	topic := fs.String("topic", bus.TopicAll, "Topic (env, node uuid, or 'all')")
	in := fs.String("in", "-", "Frame file ('-' for stdin)")
	fs.Parse(args)

	frame, err := readInput(*in)
	if err != nil {
		fatal("read frame: %v", err)
	}
	msgs, err := bus.Decode(frame)
	if err != nil {
		fatal("frame does not parse: %v", err)
	}

	nc, err := nats.Connect(*busURL, nats.Name("ponyctl"))
	if err != nil {
		fatal("connect bus: %v", err)
	}
	defer nc.Close()

	logger := logging.NewLogger("ponyctl", "", "info")
	bus.NewPublisher(nc, *prefix, logger).Publish(*topic, msgs)
	if err := nc.Flush(); err != nil {
		fatal("flush: %v", err)
	}
	fmt.Fprintf(os.Stderr, "published %d messages on %s.%s\n", len(msgs), *prefix, *topic)
}

// runAll pulls the full connection set over HTTP and republishes it as one
// create batch on the shared topic, forcing every subscriber to resync.
func runAll(args []string) {
	fs := flag.NewFlagSet("all", flag.ExitOnError)
	orchURL := fs.String("url", "http://127.0.0.1:8080", "Orchestrator base URL")
	token := fs.String("token", "", "Orchestrator bearer token")
	env := fs.String("env", "", "Restrict to one env")
	proto := fs.String("proto", "", "Restrict to one proto tag")
	busURL := fs.String("bus", nats.DefaultURL, "Bus URL")
	prefix := fs.String("prefix", "pony.events", "Subject prefix")
	fs.Parse(args)

	if *token == "" {
		fatal("-token is required")
	}

	query := apiclient.ConnectionsQuery{Env: *env}
	if *proto != "" {
		tag, err := model.ParseProtoTag(*proto)
		if err != nil {
			fatal("%v", err)
		}
		query.Proto = tag
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger := logging.NewLogger("ponyctl", *env, "info")
	conns, err := apiclient.New(*orchURL, *token, logger).Connections(ctx, query)
	if err != nil {
		fatal("%v", err)
	}
	if len(conns) == 0 {
		fmt.Fprintln(os.Stderr, "nothing to publish")
		return
	}

	msgs := make([]bus.Message, 0, len(conns))
	for _, conn := range conns {
		action := bus.ActionCreate
		if conn.IsDeleted {
			action = bus.ActionDelete
		}
		msgs = append(msgs, bus.FromConnection(action, conn))
	}

	nc, err := nats.Connect(*busURL, nats.Name("ponyctl"))
	if err != nil {
		fatal("connect bus: %v", err)
	}
	defer nc.Close()

	bus.NewPublisher(nc, *prefix, logger).Publish(bus.TopicAll, msgs)
	if err := nc.Flush(); err != nil {
		fatal("flush: %v", err)
	}
	fmt.Fprintf(os.Stderr, "republished %d connections on %s.%s\n", len(msgs), *prefix, bus.TopicAll)
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func writeOutput(path string, b []byte) error {
	if path == "-" {
		_, err := os.Stdout.Write(b)
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
