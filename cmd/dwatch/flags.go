package main

import "time"

// ServeFlags decouple cobra from the serve logic for testing.
type ServeFlags struct {
	Daemonize   bool
	PidFile     string
	LogFile     string
	Interactive bool
}

type WatchFlags struct {
	Project       string
	LaunchProfile string
	Args          []string
	Env           []string
	Listen        string
}

type PSFlags struct {
	Discriminator string
	All           bool
	Source        string
	Timeout       time.Duration
	JSON          bool
}

type StatusFlags struct {
	JSON      bool
	Processes bool
}

type AttachFlags struct {
	External bool
}

type StartFlags struct {
	Project       string
	LaunchProfile string
	Args          []string
	Env           []string
}
