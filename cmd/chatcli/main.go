package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tropichat/relay/internal/chatclient"
	"github.com/tropichat/relay/internal/protocol"
	"go.uber.org/zap"
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:3000/ws", "relay websocket url")
		simulate = flag.Bool("simulate", false, "use the offline simulator instead of a relay")
		name     = flag.String("name", "", "username")
		address  = flag.String("address", "", "wallet address")
		wallet   = flag.String("wallet", "", "wallet kind, e.g. MetaMask or Phantom")
		color    = flag.String("color", "", "display color (#RRGGBB)")
		debug    = flag.Bool("debug", false, "verbose logging")
	)
	flag.Parse()

	log := zap.NewNop()
	if *debug {
		log, _ = zap.NewDevelopment()
	}
	defer log.Sync()

	if *name == "" {
		fmt.Fprintln(os.Stderr, "-name is required")
		os.Exit(2)
	}
	if *address == "" {
		*address = "guest-" + *name
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var client chatclient.Client
	if *simulate {
		client = chatclient.NewSimulated(chatclient.SimOptions{})
	} else {
		dctx, dcancel := context.WithTimeout(ctx, 10*time.Second)
		live, err := chatclient.Dial(dctx, *url, log)
		dcancel()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		client = live
	}
	defer client.Close()

	events, stop := client.Subscribe()
	defer stop()
	go printEvents(os.Stdout, events)

	join := protocol.JoinPayload{Username: *name, WalletAddress: *address, WalletType: *wallet, Color: *color}
	if err := client.Join(ctx, join); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !handleLine(ctx, client, &join, line) {
				return
			}
		}
	}
}

// handleLine runs one input line and reports whether to keep going.
func handleLine(ctx context.Context, client chatclient.Client, join *protocol.JoinPayload, line string) bool {
	act := parseInput(line, join.Username)
	switch act.kind {
	case actionQuit:
		return false
	case actionSystem:
		fmt.Println("*** " + act.text)
	case actionClear:
		fmt.Print("\033[H\033[2J")
		fmt.Println("*** Chat cleared.")
	case actionRecolor:
		join.Color = act.text
		if err := client.Join(ctx, *join); err != nil {
			fmt.Println("*** " + err.Error())
		}
	case actionSend:
		if err := client.Send(ctx, act.text); err != nil {
			fmt.Println("*** " + err.Error())
		}
		_ = client.Typing(ctx, false)
	}
	return true
}

func printEvents(w io.Writer, events <-chan protocol.Inbound) {
	for ev := range events {
		if line := formatEvent(ev); line != "" {
			fmt.Fprintln(w, line)
		}
	}
	fmt.Fprintln(w, "*** disconnected")
}

func formatEvent(ev protocol.Inbound) string {
	switch ev.Type {
	case protocol.TypeWelcome:
		var p protocol.WelcomePayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			return "*** " + p.Message
		}
	case protocol.TypeMessageHistory:
		var p protocol.HistoryPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			out := ""
			for i, m := range p.Messages {
				if i > 0 {
					out += "\n"
				}
				out += formatMessage(m)
			}
			return out
		}
	case protocol.TypeChatMessage:
		var m protocol.ChatMessage
		if json.Unmarshal(ev.Payload, &m) == nil {
			return formatMessage(m)
		}
	case protocol.TypeUserJoined:
		var p protocol.UserJoinedPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			return fmt.Sprintf("*** %s joined the chat", p.Username)
		}
	case protocol.TypeUserLeft:
		var p protocol.UserLeftPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			return fmt.Sprintf("*** %s left the chat", p.Username)
		}
	case protocol.TypeActiveUsers:
		var p protocol.ActiveUsersPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			return fmt.Sprintf("*** %d user(s) online", len(p.Users))
		}
	case protocol.TypeError:
		var p protocol.ErrorPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			return "!!! " + p.Message
		}
	}
	return ""
}

func formatMessage(m protocol.ChatMessage) string {
	return fmt.Sprintf("[%s] <%s> %s", m.Timestamp.Local().Format("15:04"), m.Username, m.Content)
}
