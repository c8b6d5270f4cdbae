package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"groupchat/app/api"
	"groupchat/app/client/openai"
	"groupchat/app/config"
	"groupchat/app/service/addressing"
	"groupchat/app/service/conversation"
	"groupchat/app/service/history"
	"groupchat/app/service/settings"
	"groupchat/app/store/messages"
	"groupchat/app/util/mylog"

	"github.com/gofiber/fiber/v2/log"
	"github.com/samber/do"
	"golang.org/x/sync/errgroup"
)

func main() {
	di := do.New()
	defer di.Shutdown()
	defer log.Info("Waiting for services to finish...")

	mylog.Preinit()

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	do.ProvideValue(di, appCtx)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	do.ProvideValue(di, cfg)

	if err = mylog.Init(cfg); err != nil {
		log.Fatalf("logging init failed: %v", err)
	}

	do.Provide(di, messages.New)
	do.Provide(di, settings.New)
	do.Provide(di, history.New)
	do.Provide(di, addressing.New)
	do.Provide(di, openai.New)
	do.Provide(di, conversation.New)
	do.Provide(di, api.New)

	slog.Info("Service started")

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt)
		<-sigint

		log.Info("Shutting down...")

		cancel()
	}()

	apiSvc := do.MustInvoke[*api.Service](di)

	g, gCtx := errgroup.WithContext(appCtx)

	g.Go(apiSvc.Run)

	g.Go(func() error {
		<-gCtx.Done()
		return apiSvc.Shutdown()
	})

	if err = g.Wait(); err != nil {
		slog.Error("Service stopped", "error", err)
	}
}
