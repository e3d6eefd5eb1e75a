package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/VanDung-dev/HieraChain-Relay/relay-engine/client"
	"github.com/VanDung-dev/HieraChain-Relay/relay-engine/logx"
	"github.com/VanDung-dev/HieraChain-Relay/relay-engine/network"
)

func main() {
	address := flag.String("addr", "tcp://127.0.0.1:4444", "Relay node address")
	name := flag.String("name", "", "User name")
	logLevel := flag.String("log", "warn", "Log level")
	flag.Parse()

	if *name == "" {
		fmt.Fprintln(os.Stderr, "relay-chat: -name is required")
		os.Exit(2)
	}

	logger, closeLog, err := logx.New(logx.Config{Level: *logLevel})
	if err != nil {
		fmt.Fprintf(os.Stderr, "relay-chat: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	c, err := client.Dial(ctx, *address, *name, client.WithLogger(logger))
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "relay-chat: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	fmt.Printf("Connected to %s as %s. Commands: /users /peers /quit\n", *address, *name)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range c.Events() {
			printEvent(ev)
		}
		fmt.Println("* connection closed")
	}()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case <-sig:
			return
		case <-done:
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := handleLine(c, strings.TrimSpace(line)); quit {
				return
			}
		}
	}
}

func handleLine(c *client.Client, line string) bool {
	switch line {
	case "":
	case "/quit":
		return true
	case "/users":
		fmt.Printf("* online: %s\n", strings.Join(c.UserNames(), ", "))
	case "/peers":
		if err := c.RequestPeerAddresses(); err != nil {
			fmt.Printf("* error: %v\n", err)
		}
	default:
		if err := c.Say(line); err != nil {
			fmt.Printf("* error: %v\n", err)
		}
	}
	return false
}

func printEvent(ev client.Event) {
	switch ev.Type {
	case network.EventMessageResponse:
		fmt.Printf("<%s> %s\n", ev.Message.UserName, ev.Message.Text)
	case network.EventUsersOnline:
		fmt.Printf("* %d user(s) online\n", len(ev.Users))
	case network.EventPeerAddresses:
		if len(ev.Peers) == 0 {
			fmt.Println("* node has no peers")
			return
		}
		fmt.Printf("* peers: %s\n", strings.Join(ev.Peers, ", "))
	}
}
