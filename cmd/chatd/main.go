package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/hashim-i222478/chatlink/internal/daemon"
	"github.com/hashim-i222478/chatlink/internal/session"
	"go.uber.org/fx"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (default from config, then \"main\")")
	flag.Parse()

	name := session.Resolve(*sessionFlag)
	if err := session.ValidateName(name); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fx.New(daemon.Module(daemon.Params{SessionName: name})).Run()
}
