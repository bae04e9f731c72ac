package main

import (
	"fmt"
	"os"

	"github.com/VanDung-dev/zyre-go/network"
	"github.com/VanDung-dev/zyre-go/zyre"
)

// Version information
const (
	Version = "0.1.0"
	Name    = "zyre-go"
)

func main() {
	fmt.Printf("%s v%s\n", Name, Version)
	fmt.Println("Typed Go API for zyre peer-to-peer nodes")
	fmt.Printf("Transport: network v%s\n", zyre.TransportVersion(network.NewBackend(network.DefaultConfig())))
	os.Exit(0)
}
