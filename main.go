package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ceyewan/obgate/dispatcher/config"
	"github.com/ceyewan/obgate/dispatcher/dispatcher"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("❌ Failed to load config: %v\n", err)
		os.Exit(1)
	}

	d, err := dispatcher.New(cfg)
	if err != nil {
		fmt.Printf("❌ Failed to start dispatcher: %v\n", err)
		os.Exit(1)
	}
	defer d.Close()

	go func() {
		if err := d.Run(); err != nil {
			fmt.Printf("❌ Dispatcher error: %v\n", err)
			os.Exit(1)
		}
	}()

	waitForSignal()
}

func waitForSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	<-quit

	fmt.Println("👋 Service exiting")
}
