package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deemkeen/chatterpub/activitypub"
	"github.com/deemkeen/chatterpub/db"
	"github.com/deemkeen/chatterpub/identity"
	"github.com/deemkeen/chatterpub/util"
	"github.com/deemkeen/chatterpub/web"
)

func main() {

	conf, err := util.ReadConf()
	if err != nil {
		log.Fatalln(err)
	}

	fmt.Println("Configuration: ")
	fmt.Println(util.PrettyPrint(conf))

	database, err := db.Open(util.ResolveFilePath(conf.Conf.DbPath))
	if err != nil {
		log.Fatalln(err)
	}
	defer database.Close()

	log.Println("Running database migrations...")
	if err := database.RunMigrations(); err != nil {
		log.Fatalln(err)
	}
	log.Println("Database migrations complete")

	registry := identity.NewRegistry(identity.DIDKeyResolver{})
	verifier := identity.NewVerifier(
		registry,
		time.Duration(conf.Conf.KeyCacheTtlSec)*time.Second,
		time.Duration(conf.Conf.ResolveTimeoutSec)*time.Second,
	)
	engine := activitypub.NewEngine(database, verifier)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := web.Router(conf, engine); err != nil {
			log.Fatalln(err)
		}
	}()

	<-done
	log.Println("Stopping server")
}
