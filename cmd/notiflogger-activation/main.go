package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"notiflogger/internal/app"
	"notiflogger/internal/infrastructure"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	debugToken := flag.String("debug-token", "", "print a validation report for `token` against this device and exit")
	clearDebugLog := flag.Bool("clear-debug-log", false, "remove the activation debug log and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s %s %s\n", app.AppName, app.Version, app.BuildTime)
		return
	}

	application, err := app.NewApplication()
	if err != nil {
		slog.Error("Failed to initialize application", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer infrastructure.CloseLogFile()

	if *clearDebugLog {
		code := 0
		if err := application.ClearDebugLog(); err != nil {
			application.Logger.Error("Failed to clear debug log", slog.String("error", err.Error()))
			code = 1
		}
		infrastructure.CloseLogFile()
		os.Exit(code)
	}

	if *debugToken != "" {
		code := runDebug(application, *debugToken)
		infrastructure.CloseLogFile()
		os.Exit(code)
	}

	if err := application.Run(context.Background()); err != nil {
		application.Logger.Error("Application error", slog.String("error", err.Error()))
		infrastructure.CloseLogFile()
		os.Exit(1)
	}
}

// runDebug prints the report without touching the activation store.
func runDebug(application *app.Application, token string) int {
	ctx := infrastructure.EnsureTraceID(context.Background())
	logger := infrastructure.WithComponent(application.Logger, "cli")
	deviceID, err := application.Device.GetID(ctx)
	if err != nil {
		logger.WarnContext(ctx, "device id unavailable", slog.String("error", err.Error()))
	}

	report := application.Engine.DebugReport(ctx, deviceID, token)
	fmt.Println(report.String())
	if !report.Valid {
		return 2
	}
	return 0
}
