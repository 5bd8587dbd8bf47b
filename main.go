package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/clusterw/wgo-ui/app"
	"github.com/clusterw/wgo-ui/cmd"
	"github.com/clusterw/wgo-ui/config"
)

func runApp() {
	a := app.NewApp()
	err := a.Init()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	err = a.Start()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	for sig := range sigCh {
		switch sig {
		case syscall.SIGHUP:
			a.RestartApp()
		default:
			a.Stop()
			return
		}
	}
}

func main() {
	if len(os.Args) < 2 {
		runApp()
		return
	}

	var showVersion bool
	flag.BoolVar(&showVersion, "v", false, "show version")

	adminCmd := flag.NewFlagSet("admin", flag.ExitOnError)
	var reset bool
	var show bool
	var username string
	var password string
	adminCmd.BoolVar(&reset, "reset", false, "reset admin credentials to admin/admin")
	adminCmd.BoolVar(&show, "show", false, "show current admin username")
	adminCmd.StringVar(&username, "username", "", "set admin username")
	adminCmd.StringVar(&password, "password", "", "set admin password")

	switch os.Args[1] {
	case "run":
		runApp()
	case "admin":
		err := adminCmd.Parse(os.Args[2:])
		if err != nil {
			fmt.Println(err)
			return
		}
		switch {
		case reset:
			cmd.ResetAdmin()
		case show:
			cmd.ShowAdmin()
		default:
			cmd.UpdateAdmin(username, password)
		}
	default:
		flag.Parse()
		if showVersion {
			fmt.Println(config.GetVersion())
			return
		}
		fmt.Println("unknown command:", os.Args[1])
		fmt.Println()
		fmt.Println("usage:", os.Args[0], "[run|admin]")
	}
}
