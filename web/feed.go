package web

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/convoke-dev/convoke/db"
	"github.com/convoke-dev/convoke/util"
	"github.com/google/uuid"
	"github.com/gorilla/feeds"
)

const feedLimit = 50

// GetRSS renders the upcoming events as an RSS feed
func GetRSS(conf *util.AppConfig) (string, error) {
	err, events := db.GetDB().ReadUpcomingEvents(time.Now(), feedLimit)
	if err != nil || events == nil {
		log.Println("Could not get upcoming events!", err)
		return "", errors.New("error retrieving upcoming events")
	}

	link := fmt.Sprintf("%s/feed", conf.BaseURL())

	feed := &feeds.Feed{
		Title:       fmt.Sprintf("Upcoming events on %s", conf.Conf.SslDomain),
		Link:        &feeds.Link{Href: link},
		Description: "upcoming events, local and federated",
		Created:     time.Now(),
	}

	var feedItems []*feeds.Item
	for _, event := range *events {
		item := &feeds.Item{
			Id:          event.Id.String(),
			Title:       fmt.Sprintf("%s (%s)", event.Title, event.StartTime.Format(util.DateTimeFormat())),
			Link:        &feeds.Link{Href: fmt.Sprintf("%s/events/%s", conf.BaseURL(), event.Id)},
			Description: event.Summary,
			Created:     event.CreatedAt,
			Updated:     event.UpdatedAt,
		}
		if event.Location != "" {
			item.Content = fmt.Sprintf("%s<br>Location: %s", event.Summary, event.Location)
		}
		feedItems = append(feedItems, item)
	}

	feed.Items = feedItems
	return feed.ToRss()
}

// GetRSSItem renders a single event as a one-item RSS feed
func GetRSSItem(conf *util.AppConfig, eventId uuid.UUID) (string, error) {
	err, event := db.GetDB().ReadEventById(eventId)
	if err != nil || event == nil {
		log.Println("Could not get event!", err)
		return "", errors.New("error retrieving event by id")
	}

	url := fmt.Sprintf("%s/events/%s", conf.BaseURL(), event.Id)

	feed := &feeds.Feed{
		Title:       event.Title,
		Link:        &feeds.Link{Href: url},
		Description: event.Summary,
		Created:     time.Now(),
	}

	feed.Items = []*feeds.Item{
		{
			Id:          event.Id.String(),
			Title:       fmt.Sprintf("%s (%s)", event.Title, event.StartTime.Format(util.DateTimeFormat())),
			Link:        &feeds.Link{Href: url},
			Description: event.Summary,
			Created:     event.CreatedAt,
			Updated:     event.UpdatedAt,
		},
	}

	return feed.ToRss()
}
