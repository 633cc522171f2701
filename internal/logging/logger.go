package logging

import (
	"log"
	"os"
)

var (
	B2       = log.New(os.Stdout, "[b2] ", log.LstdFlags)
	Stories  = log.New(os.Stdout, "[stories] ", log.LstdFlags)
	Playback = log.New(os.Stdout, "[playback] ", log.LstdFlags)
	Internal = log.New(os.Stdout, "[internal] ", log.LstdFlags)
	HTTP     = log.New(os.Stdout, "[http] ", log.LstdFlags)
)
