package main

import (
	"fmt"
	"os"
)

// Version information
const (
	Version = "0.1.0"
	Name    = "HieraChain-Relay"
)

func main() {
	fmt.Printf("%s v%s\n", Name, Version)
	fmt.Println("Peer-to-peer gossip relay for HieraChain nodes")
	fmt.Println("Run cmd/relay-node to start a node, cmd/relay-chat to join one")
	os.Exit(0)
}
