package types

import (
	"encoding/json"
)

const (
	WireMessageTypeInfo     = "info"
	WireMessageTypeChat     = "chat"
	WireMessageTypeCallback = "callback"
	WireMessageTypeText     = "text"
	WireMessageTypeImage    = "image"
)

// JSON-serialized WebsocketMessage is what is actually sent via the Websocket connection
type WebsocketMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// The different types of messages transferred from the client to here.

// ChatMessage is a plain chat line or a command (starting with "/"), incoming
type ChatMessage struct {
	Message string `json:"message" mapstructure:"message"`
}

// CallbackMessage is sent when a client presses a button attached to an image, incoming
type CallbackMessage struct {
	Data    string `json:"data" mapstructure:"data"`         // "like" or "dislike"
	ImageId string `json:"image_id" mapstructure:"image_id"` // scoring service id of the image
}

// The different types of messages transferred from here to the client.

type Button struct {
	Text string `json:"text"`
	Data string `json:"data"`
}

// TextMessage is a text notification, optionally with buttons (keyboard)
type TextMessage struct {
	Text    string   `json:"text"`
	Buttons []Button `json:"buttons,omitempty"`
}

// ImageMessage points the client to an image which can be fetched via Url
type ImageMessage struct {
	Ref     string   `json:"ref"`
	Url     string   `json:"url"`
	Caption string   `json:"caption,omitempty"`
	Buttons []Button `json:"buttons,omitempty"`
}

// InfoMessage is sent once after the connection is established
type InfoMessage struct {
	UserId   UserId   `json:"user_id"`
	Nick     string   `json:"nick"`
	Endpoint Endpoint `json:"endpoint"`
}

// Wire wraps one of the outgoing messages in the WebsocketMessage envelope.
func Wire(event string, msg interface{}) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(WebsocketMessage{
		Event: event,
		Data:  data,
	})
}
