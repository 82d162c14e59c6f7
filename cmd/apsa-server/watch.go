package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/apsa/backend/internal/handshake"
	"github.com/MarcoPoloResearchLab/apsa/backend/internal/protocol"
	"github.com/MarcoPoloResearchLab/apsa/backend/internal/wsframe"
	"github.com/spf13/cobra"
)

const defaultWatchHeartbeat = 15 * time.Second

type watchOptions struct {
	url       string
	user      string
	duration  time.Duration
	heartbeat time.Duration
}

// newWatchCommand builds a diagnostic client that claims an identity and prints
// every envelope the server sends.
func newWatchCommand() *cobra.Command {
	options := watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Connect to a running server and print what it broadcasts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, options)
		},
	}
	cmd.Flags().StringVar(&options.url, "url", "ws://127.0.0.1:8080/ws", "Server websocket URL")
	cmd.Flags().StringVar(&options.user, "user", "", "Identity to register (empty stays anonymous)")
	cmd.Flags().DurationVar(&options.duration, "duration", 30*time.Second, "How long to listen")
	cmd.Flags().DurationVar(&options.heartbeat, "heartbeat", defaultWatchHeartbeat, "Heartbeat period")
	return cmd
}

func runWatch(cmd *cobra.Command, options watchOptions) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), options.duration)
	defer cancel()

	conn, err := handshake.Dial(ctx, options.url)
	if err != nil {
		return err
	}
	defer conn.Close()

	if options.user != "" {
		if err := sendEnvelope(conn, protocol.Register{UserID: options.user}, protocol.TypeRegister); err != nil {
			return err
		}
	}

	frames := make(chan wsframe.Frame)
	readErr := make(chan error, 1)
	go readFrames(ctx, conn, frames, readErr)

	heartbeat := options.heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultWatchHeartbeat
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	out := cmd.OutOrStdout()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if ctx.Err() != nil {
				return nil
			}
			return err
		case <-ticker.C:
			if err := sendEnvelope(conn, struct{}{}, protocol.TypeHeartbeat); err != nil {
				return err
			}
		case frame := <-frames:
			if frame.Opcode == wsframe.OpClose {
				fmt.Fprintln(out, "server closed the connection")
				return nil
			}
			fmt.Fprintln(out, frame.Text())
		}
	}
}

// readFrames forwards server frames until the connection fails. Closing conn
// unblocks it.
func readFrames(ctx context.Context, conn *handshake.ClientConn, frames chan<- wsframe.Frame, readErr chan<- error) {
	for {
		frame, err := conn.Receive(time.Time{})
		if err != nil {
			if wsframe.IsRecoverable(err) {
				continue
			}
			readErr <- err
			return
		}
		select {
		case frames <- frame:
		case <-ctx.Done():
			return
		}
	}
}

// sendEnvelope encodes body and stamps it with the message type.
func sendEnvelope(conn *handshake.ClientConn, body any, messageType string) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return err
	}
	typeValue, _ := json.Marshal(messageType)
	fields["type"] = typeValue
	payload, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	return conn.SendText(string(payload))
}
