package web

import (
	"encoding/json"
	"fmt"

	"github.com/convoke-dev/convoke/db"
	"github.com/convoke-dev/convoke/util"
)

type webfingerLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type"`
	Href string `json:"href"`
}

type webfingerResponse struct {
	Subject string          `json:"subject"`
	Links   []webfingerLink `json:"links"`
}

func GetWebfinger(user string, conf *util.AppConfig) (error, string) {
	err, acc := db.GetDB().ReadAccByUsername(user)
	if err != nil {
		return err, GetWebFingerNotFound()
	}

	resp := webfingerResponse{
		Subject: fmt.Sprintf("acct:%s@%s", acc.Username, conf.Conf.SslDomain),
		Links: []webfingerLink{
			{
				Rel:  "self",
				Type: "application/activity+json",
				Href: fmt.Sprintf("%s/users/%s", conf.BaseURL(), acc.Username),
			},
		},
	}

	jsonBytes, err := json.Marshal(resp)
	if err != nil {
		return err, GetWebFingerNotFound()
	}
	return nil, string(jsonBytes)
}

func GetWebFingerNotFound() string {
	return `{"detail":"Not Found"}`
}
