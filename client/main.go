// Command client is a terminal demo client: it logs in against the api,
// attaches a socket to the gateway, joins a workspace and prints whatever the
// fan-out delivers.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

type LoginResponse struct {
	Token string `json:"token"`
}

type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func login(apiAddr, userID string) (string, error) {
	reqBody, _ := json.Marshal(map[string]string{"user_id": userID})
	resp, err := http.Post(apiAddr+"/login", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("login failed: %s", string(body))
	}

	var loginResp LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return "", err
	}
	return loginResp.Token, nil
}

func sendFrame(c *websocket.Conn, event string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(Frame{Event: event, Data: raw})
	if err != nil {
		return err
	}
	return c.WriteMessage(websocket.TextMessage, frame)
}

func postMessage(apiAddr, token, workspaceID, roomType, roomID, content string) error {
	body, _ := json.Marshal(map[string]interface{}{
		"workspace_id": workspaceID,
		"room_type":    roomType,
		"room_id":      roomID,
		"content":      content,
	})
	req, err := http.NewRequest(http.MethodPost, apiAddr+"/messages", bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		out, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("send failed: %s", string(out))
	}
	return nil
}

func main() {
	serverAddr := flag.String("addr", "localhost:8080", "gateway service address")
	apiAddr := flag.String("api", "http://localhost:8081", "api service address")
	userID := flag.String("user", "user1", "user id")
	workspaceID := flag.String("workspace", "w1", "workspace id")
	channelID := flag.String("channel", "general", "channel id to talk in")
	flag.Parse()

	log.Printf("Logging in as %s...", *userID)
	token, err := login(*apiAddr, *userID)
	if err != nil {
		log.Fatal("login failed: ", err)
	}

	u := url.URL{Scheme: "ws", Host: *serverAddr, Path: "/ws"}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	log.Printf("connecting to %s", u.String())

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial: ", err)
	}
	defer c.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, raw, err := c.ReadMessage()
			if err != nil {
				log.Println("read:", err)
				return
			}
			var frame Frame
			if err := json.Unmarshal(raw, &frame); err != nil {
				fmt.Printf("\rraw: %s\n> ", raw)
				continue
			}
			fmt.Printf("\r[%s] %s\n> ", frame.Event, frame.Data)
		}
	}()

	if err := sendFrame(c, "joinWorkspace", map[string]string{"workspace_id": *workspaceID}); err != nil {
		log.Fatal("joinWorkspace: ", err)
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	// Commands: /typing, /status <status>, /read, /quit; anything else posts
	// a message to the channel through the api.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print("> ")
		for scanner.Scan() {
			text := scanner.Text()
			switch {
			case text == "":
			case text == "/quit":
				close(interrupt)
				return
			case text == "/typing":
				if err := sendFrame(c, "typing", map[string]interface{}{
					"room_type": "channel", "room_id": *channelID, "is_typing": true,
				}); err != nil {
					log.Println("write:", err)
					return
				}
			case strings.HasPrefix(text, "/status "):
				if err := sendFrame(c, "updateStatus", map[string]string{
					"status": strings.TrimPrefix(text, "/status "),
				}); err != nil {
					log.Println("write:", err)
					return
				}
			case text == "/read":
				if err := sendFrame(c, "markAsRead", map[string]string{
					"room_type": "channel", "room_id": *channelID,
				}); err != nil {
					log.Println("write:", err)
					return
				}
			default:
				if err := postMessage(*apiAddr, token, *workspaceID, "channel", *channelID, text); err != nil {
					log.Println(err)
				}
			}
			fmt.Print("> ")
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-interrupt:
			log.Println("interrupt")
			err := c.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.Println("write close:", err)
				return
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		}
	}
}
