package main

import "time"

// AddFlags Flag structs to decouple cobra from logic for testing.
type AddFlags struct {
	Name        string
	Command     string
	Dir         string
	Env         []string
	AutoRestart bool
}

type StartFlags struct {
	Name       string
	APIUrl     string
	APITimeout time.Duration
}

type StatusFlags struct {
	Name string
	JSON bool
}

type RemoveFlags struct {
	Name  string
	Force bool
}

type ServerFlags struct {
	Host string
	Port int
}
