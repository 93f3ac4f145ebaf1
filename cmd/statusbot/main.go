package main

import (
	"os"

	"github.com/Tayen15/KZT-sub000/pkg/app"
	"github.com/Tayen15/KZT-sub000/pkg/log"
)

// main is the entry point of the status bot.
func main() {
	if err := app.Run("statusbot", "STATUSBOT_TOKEN"); err != nil {
		log.ErrorLoggerRaw().Error("Fatal", "err", err)
		os.Exit(1)
	}
}
