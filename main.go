package main

import (
	"fmt"
	"log"

	"github.com/convoke-dev/convoke/activitypub"
	"github.com/convoke-dev/convoke/db"
	"github.com/convoke-dev/convoke/util"
	"github.com/convoke-dev/convoke/web"
)

func main() {

	conf, err := util.ReadConf()
	if err != nil {
		log.Fatalln(err)
	}

	fmt.Println("Configuration: ")
	fmt.Println(util.PrettyPrint(conf))

	// Opens the database and runs migrations
	database := db.GetDB()

	hub := web.NewSSEHub()
	gateway := activitypub.NewQueueGateway(database)
	resolver := activitypub.NewHTTPResolver(database)
	processor := activitypub.NewProcessor(database, conf, resolver, gateway, hub)

	activitypub.StartDeliveryWorker(conf)

	api := web.NewAPI(database, conf, gateway, hub)

	if err := web.Router(conf, processor, hub, api); err != nil {
		log.Fatalln(err)
	}
}
