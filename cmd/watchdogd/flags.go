package main

import "time"

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	// API connection for client commands
	APIUrl     string
	APITimeout time.Duration
}

type ServeFlags struct {
	ConfigPath string
	Daemonize  bool
	PidFile    string
	LogFile    string
}

type StatusFlags struct {
	Name string
	JSON bool
}

type EventsFlags struct {
	Service string
	Limit   int
	// History reads the persistent store instead of the in-memory buffer.
	History bool
	JSON    bool
}
