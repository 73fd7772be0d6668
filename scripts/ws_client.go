// Package main runs a demo WebSocket client that follows an async plan.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	// Start an async plan over a few stops around Philadelphia
	body := []byte(`{"async":true,"modes":["walk","bike"],"twoOpt":true,"waypoints":[
		{"label":"City Hall","lat":39.9524,"lng":-75.1636},
		{"label":"Art Museum","lat":39.9656,"lng":-75.1810},
		{"label":"Liberty Bell","lat":39.9496,"lng":-75.1503},
		{"label":"Reading Terminal","lat":39.9533,"lng":-75.1590}]}`)
	req, _ := http.NewRequest(http.MethodPost, base+"/v1/optimize", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusAccepted {
		log.Fatalf("optimize: unexpected status %s", resp.Status)
	}
	var accepted struct {
		PlanID string `json:"planId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		log.Fatal(err)
	}
	log.Printf("Plan ID: %s", accepted.PlanID)

	// Connect WS
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/plans/" + accepted.PlanID + "/ws"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()
	if err := c.WriteJSON(wsMessage{Type: "ping"}); err != nil {
		log.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s: %s", m.Type, string(m.Payload))
			if m.Type == "complete" {
				return
			}
		}
	}()

	select {
	case <-time.After(30 * time.Second):
	case <-done:
	}
}
