package main

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	helpText  = "Available commands: /help, /clear, /shrug, /me [action], /color [hex], /quit"
	shrugText = `¯\_(ツ)_/¯`
)

var hexColor = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

type actionKind int

const (
	actionSend actionKind = iota
	actionSystem
	actionClear
	actionRecolor
	actionQuit
	actionNone
)

type action struct {
	kind actionKind
	text string
}

// parseInput turns one line typed by the user into what the client should do.
func parseInput(line, username string) action {
	line = strings.TrimSpace(line)
	if line == "" {
		return action{kind: actionNone}
	}
	if !strings.HasPrefix(line, "/") {
		return action{kind: actionSend, text: line}
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(cmd) {
	case "/help":
		return action{kind: actionSystem, text: helpText}
	case "/clear":
		return action{kind: actionClear}
	case "/quit", "/exit":
		return action{kind: actionQuit}
	case "/shrug":
		if arg == "" {
			return action{kind: actionSend, text: shrugText}
		}
		return action{kind: actionSend, text: arg + " " + shrugText}
	case "/me":
		if arg == "" {
			return action{kind: actionSystem, text: "Usage: /me [action]"}
		}
		return action{kind: actionSend, text: fmt.Sprintf("* %s %s", username, arg)}
	case "/color":
		if !hexColor.MatchString(arg) {
			return action{kind: actionSystem, text: "Invalid color format. Use hexadecimal: /color #FF5733"}
		}
		return action{kind: actionRecolor, text: arg}
	}
	return action{kind: actionSystem, text: "Unknown command: " + line}
}
