package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"worldroll.ai/internal/protocol"
	"worldroll.ai/internal/world"
)

// Fetch pulls the map, the online list and any online players missing from
// the map's player table.
func (c *Client) Fetch(ctx context.Context) (world.SnapshotData, error) {
	var st protocol.MapState
	if err := c.getJSON(ctx, "get", &st); err != nil {
		return world.SnapshotData{}, err
	}
	var on protocol.OnlineResponse
	if err := c.getJSON(ctx, "online", &on); err != nil {
		return world.SnapshotData{}, err
	}
	if st.Players == nil {
		st.Players = map[string]protocol.PlayerInfo{}
	}

	var missing []string
	for _, id := range on.Online {
		if id.IsZero() {
			continue
		}
		if _, ok := st.Players[string(id)]; !ok {
			missing = append(missing, string(id))
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		var extra protocol.PlayersResponse
		uri := "getplayers?ids=" + url.QueryEscape("["+strings.Join(missing, ",")+"]")
		if err := c.getJSON(ctx, uri, &extra); err != nil {
			return world.SnapshotData{}, err
		}
		for id, p := range extra.Players {
			st.Players[id] = p
		}
	}
	return toSnapshotData(st, on), nil
}

func (c *Client) getJSON(ctx context.Context, uri string, out any) error {
	body, err := c.do(ctx, http.MethodGet, uri, nil, 0)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		name, _, _ := strings.Cut(uri, "?")
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

func toSnapshotData(st protocol.MapState, on protocol.OnlineResponse) world.SnapshotData {
	d := world.SnapshotData{
		Holdings: make(map[string]world.Holding, len(st.Map)),
		Owners:   make(map[string]world.Owner, len(st.Players)),
		Clans:    make(map[string]world.Clan, len(st.Factions)),
		Online:   make([]string, 0, len(on.Online)),
	}
	for code, cell := range st.Map {
		d.Holdings[code] = world.Holding{OwnerID: string(cell.UID), Level: cell.SP}
	}
	for id, p := range st.Players {
		o := world.Owner{ID: id, Name: p.Name}
		if !p.FID.IsZero() {
			o.ClanID = string(p.FID)
		}
		d.Owners[id] = o
	}
	for id, f := range st.Factions {
		d.Clans[id] = world.Clan{ID: id, Name: f.Name}
	}
	for _, id := range on.Online {
		if !id.IsZero() {
			d.Online = append(d.Online, string(id))
		}
	}
	return d
}
