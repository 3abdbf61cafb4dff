package activitypub

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/convoke-dev/convoke/db"
	"github.com/convoke-dev/convoke/domain"
	"github.com/convoke-dev/convoke/util"
)

const (
	deliveryBatchSize   = 50
	deliveryMaxAttempts = 10
	ledgerPurgeInterval = time.Hour
)

var backoffMinutes = []int{1, 5, 15, 60, 240, 1440}

// StartDeliveryWorker starts the background worker that drains the delivery
// queue and, once an hour, purges expired idempotency ledger entries.
func StartDeliveryWorker(conf *util.AppConfig) {
	log.Println("DeliveryWorker: Starting...")

	ticker := time.NewTicker(10 * time.Second)
	go func() {
		lastPurge := time.Now()
		for range ticker.C {
			processDeliveryQueue(conf)
			if time.Since(lastPurge) >= ledgerPurgeInterval {
				purgeLedger()
				lastPurge = time.Now()
			}
		}
	}()
}

func purgeLedger() {
	purged, err := db.GetDB().PurgeExpiredActivities()
	if err != nil {
		log.Printf("DeliveryWorker: Ledger purge failed: %v", err)
		return
	}
	if purged > 0 {
		log.Printf("DeliveryWorker: Purged %d expired ledger entries", purged)
	}
}

func processDeliveryQueue(conf *util.AppConfig) {
	database := db.GetDB()

	err, items := database.ReadPendingDeliveries(deliveryBatchSize)
	if err != nil {
		log.Printf("DeliveryWorker: Failed to read queue: %v", err)
		return
	}

	if items == nil || len(*items) == 0 {
		return
	}

	log.Printf("DeliveryWorker: Processing %d pending deliveries", len(*items))

	for _, item := range *items {
		if err := deliverActivity(&item, conf); err != nil {
			item.Attempts++
			minutes := backoffMinutes[min(item.Attempts-1, len(backoffMinutes)-1)]
			item.NextRetryAt = time.Now().Add(time.Duration(minutes) * time.Minute)

			if item.Attempts >= deliveryMaxAttempts {
				log.Printf("DeliveryWorker: Giving up on delivery to %s after %d attempts", item.InboxURI, item.Attempts)
				database.DeleteDelivery(item.Id)
			} else {
				log.Printf("DeliveryWorker: Delivery to %s failed (attempt %d), retry in %dm: %v",
					item.InboxURI, item.Attempts, minutes, err)
				database.UpdateDeliveryAttempt(item.Id, item.Attempts, item.NextRetryAt)
			}
		} else {
			log.Printf("DeliveryWorker: Delivered to %s", item.InboxURI)
			database.DeleteDelivery(item.Id)
		}
	}
}

// deliverActivity signs and posts a single queued activity to its inbox
func deliverActivity(item *domain.DeliveryQueueItem, conf *util.AppConfig) error {
	var activity map[string]interface{}
	if err := json.Unmarshal([]byte(item.ActivityJSON), &activity); err != nil {
		return fmt.Errorf("failed to parse activity JSON: %w", err)
	}

	actor, ok := activity["actor"].(string)
	if !ok {
		return fmt.Errorf("activity missing actor field")
	}

	// actor format: "https://events.example/users/alice"
	parts := strings.Split(actor, "/")
	username := parts[len(parts)-1]
	if username == "" {
		return fmt.Errorf("invalid actor URI: %s", actor)
	}

	err, localAccount := db.GetDB().ReadAccByUsername(username)
	if err != nil {
		return fmt.Errorf("failed to get local account: %w", err)
	}

	privateKey, err := ParsePrivateKey(localAccount.WebPrivateKey)
	if err != nil {
		return fmt.Errorf("failed to parse private key: %w", err)
	}

	body := []byte(item.ActivityJSON)
	hash := sha256.Sum256(body)
	digest := "SHA-256=" + base64.StdEncoding.EncodeToString(hash[:])

	req, err := http.NewRequest("POST", item.InboxURI, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", "convoke/"+util.GetVersion())
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)
	req.Header.Set("Digest", digest)

	keyID := ActorIRI(conf, username) + "#main-key"
	if err := SignRequest(req, privateKey, keyID); err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("remote server returned status: %d", resp.StatusCode)
	}

	return nil
}
