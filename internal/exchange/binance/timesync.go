package binance

import (
	"context"
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"exchange-core/internal/core"
)

type serverTimeResponse struct {
	ServerTime int64 `json:"serverTime"`
}

// GetServerTime fetches the exchange clock and records the offset used to
// stamp signed requests.
func (c *Client) GetServerTime(ctx context.Context) core.Result[core.ServerTime] {
	res := execute(ctx, c, request{method: http.MethodGet, path: "/api/v1/time", weight: weightServerTime},
		func(body []byte) (core.ServerTime, error) {
			var st serverTimeResponse
			if err := json.Unmarshal(body, &st); err != nil {
				return core.ServerTime{}, err
			}
			local := c.now()
			server := time.UnixMilli(st.ServerTime)
			return core.ServerTime{Server: server, Local: local, Offset: local.Sub(server)}, nil
		})
	if !res.Succeeded() {
		return res
	}
	c.clock.SetOffset(res.Data.Offset)
	c.mu.Lock()
	c.lastSync = res.Data.Local
	c.mu.Unlock()
	c.log.WithEvent("time_synced").WithField("offset_ms", res.Data.Offset.Milliseconds()).Debug("server time synced")
	return res
}

// ServerTimeOffset is local minus server time as of the last sync.
func (c *Client) ServerTimeOffset() time.Duration {
	return c.clock.Offset()
}

func (c *Client) syncTime(ctx context.Context) {
	if res := c.GetServerTime(ctx); !res.Succeeded() {
		c.log.WithEvent("time_sync_failed").WithError(res.Err).Warn("server time sync failed, keeping previous offset")
	}
}

// ensureTimeSynced refreshes the offset when it is older than the sync
// interval. A failed sync leaves the previous offset in place; a skewed
// request is then caught by the -1021 retry.
func (c *Client) ensureTimeSynced(ctx context.Context) {
	c.mu.Lock()
	due := c.lastSync.IsZero() || c.now().Sub(c.lastSync) >= c.timeSyncInterval
	c.mu.Unlock()
	if due {
		c.syncTime(ctx)
	}
}
