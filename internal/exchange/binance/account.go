package binance

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	json "github.com/goccy/go-json"

	"exchange-core/internal/core"
)

func (c *Client) GetAccountInfo(ctx context.Context) core.Result[core.AccountInfo] {
	return execute(ctx, c, request{method: http.MethodGet, path: "/api/v3/account", weight: weightAccount, signed: true},
		func(body []byte) (core.AccountInfo, error) {
			var resp accountResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return core.AccountInfo{}, err
			}
			info := core.AccountInfo{
				MakerCommission: resp.MakerCommission,
				TakerCommission: resp.TakerCommission,
				CanTrade:        resp.CanTrade,
				CanWithdraw:     resp.CanWithdraw,
				CanDeposit:      resp.CanDeposit,
				UpdateTime:      msTime(resp.UpdateTime),
				Balances:        make([]core.Balance, 0, len(resp.Balances)),
			}
			for _, b := range resp.Balances {
				info.Balances = append(info.Balances, core.Balance{Asset: b.Asset, Free: b.Free, Locked: b.Locked})
			}
			return info, nil
		})
}

// GetOpenOrders lists open orders for symbol, or across every symbol when
// symbol is empty.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) core.Result[[]core.Order] {
	symbol = normalizeSymbol(symbol)
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	return execute(ctx, c, request{method: http.MethodGet, path: "/api/v3/openOrders", params: params, weight: symbolWeight(symbol, weightAllOpenOrders), signed: true},
		func(body []byte) ([]core.Order, error) {
			var rows []openOrderResponse
			if err := json.Unmarshal(body, &rows); err != nil {
				return nil, err
			}
			out := make([]core.Order, 0, len(rows))
			for _, r := range rows {
				out = append(out, core.Order{
					ID:          strconv.FormatInt(r.OrderID, 10),
					ClientID:    r.ClientOrderID,
					Symbol:      r.Symbol,
					Side:        core.Side(r.Side),
					Type:        core.OrderType(r.Type),
					Status:      core.OrderStatus(r.Status),
					Price:       r.Price,
					OrigQty:     r.OrigQty,
					ExecutedQty: r.ExecutedQty,
					CreatedAt:   msTime(r.Time),
					UpdatedAt:   msTime(r.UpdateTime),
				})
			}
			return out, nil
		})
}

// GetDepositHistory lists deposits, optionally filtered by asset.
func (c *Client) GetDepositHistory(ctx context.Context, asset string) core.Result[[]core.Deposit] {
	return execute(ctx, c, request{method: http.MethodGet, path: "/wapi/v3/depositHistory.html", params: assetParams(asset), weight: weightWAPIHistory, signed: true},
		func(body []byte) ([]core.Deposit, error) {
			var resp depositHistoryResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return nil, err
			}
			out := make([]core.Deposit, 0, len(resp.DepositList))
			for _, d := range resp.DepositList {
				out = append(out, core.Deposit{
					Asset:      d.Asset,
					Amount:     d.Amount,
					Address:    d.Address,
					TxID:       d.TxID,
					Status:     d.Status,
					InsertTime: msTime(d.InsertTime),
				})
			}
			return out, nil
		})
}

// GetWithdrawHistory lists withdrawals, optionally filtered by asset.
func (c *Client) GetWithdrawHistory(ctx context.Context, asset string) core.Result[[]core.Withdrawal] {
	return execute(ctx, c, request{method: http.MethodGet, path: "/wapi/v3/withdrawHistory.html", params: assetParams(asset), weight: weightWAPIHistory, signed: true},
		func(body []byte) ([]core.Withdrawal, error) {
			var resp withdrawHistoryResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return nil, err
			}
			out := make([]core.Withdrawal, 0, len(resp.WithdrawList))
			for _, w := range resp.WithdrawList {
				out = append(out, core.Withdrawal{
					ID:        w.ID,
					Asset:     w.Asset,
					Amount:    w.Amount,
					Address:   w.Address,
					TxID:      w.TxID,
					Status:    w.Status,
					ApplyTime: msTime(w.ApplyTime),
				})
			}
			return out, nil
		})
}

func assetParams(asset string) url.Values {
	params := url.Values{}
	if asset != "" {
		params.Set("asset", normalizeSymbol(asset))
	}
	return params
}
