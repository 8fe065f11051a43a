package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// Roll results reported by the game server.
const (
	ResultSuccess = "success"
	ResultFail    = "fail"
	ResultError   = "error"
	ResultNote    = "note"
)

// Live message types.
const (
	TypeOnline    = "online"
	TypeOffline   = "offline"
	TypeTerritory = "territory"
)

// ErrSessionInvalid means the server no longer accepts an identity's session.
var ErrSessionInvalid = errors.New("session invalid")

// ID is a player or clan id. The server sends ids as numbers or strings.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

func (id ID) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// IsZero reports ids the server uses for "none".
func (id ID) IsZero() bool { return id == "" || id == "0" }

type RollRequest struct {
	Target string `json:"target"`
}

type RollResponse struct {
	Result string `json:"result"`
	Data   string `json:"data"`
}

type GiveRequest struct {
	Target         string `json:"target"`
	TargetPlayerID ID     `json:"targetplid"`
}

type CellState struct {
	UID ID  `json:"uid"`
	SP  int `json:"sp"`
}

type PlayerInfo struct {
	Name string `json:"name"`
	FID  ID     `json:"fid,omitempty"`
}

type FactionInfo struct {
	Name string `json:"name"`
}

// MapState is the body of GET /get.
type MapState struct {
	Map      map[string]CellState   `json:"map"`
	Players  map[string]PlayerInfo  `json:"players"`
	Factions map[string]FactionInfo `json:"factions,omitempty"`
}

type OnlineResponse struct {
	Online []ID `json:"online"`
}

// PlayersResponse is the body of GET /getplayers and GET /getthis.
type PlayersResponse struct {
	Players map[string]PlayerInfo `json:"players"`
}

// LiveMessage is one push from the live socket.
type LiveMessage struct {
	Type string `json:"type"`
	UID  ID     `json:"uid,omitempty"`
	Code string `json:"code,omitempty"`
	SP   int    `json:"sp,omitempty"`
}

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type string `json:"type"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
