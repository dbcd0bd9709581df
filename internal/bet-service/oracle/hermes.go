package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/radieske/price-duel/internal/wager"
)

// Hermes consulta o endpoint HTTP de preços mais recentes de um feed Pyth
type Hermes struct {
	BaseURL string
	HTTP    *http.Client
}

func NewHermes(base string, timeout time.Duration) *Hermes {
	return &Hermes{
		BaseURL: base,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

type hermesResponse struct {
	Parsed []struct {
		ID    string `json:"id"`
		Price struct {
			Price       string `json:"price"`
			Conf        string `json:"conf"`
			Expo        int32  `json:"expo"`
			PublishTime int64  `json:"publish_time"`
		} `json:"price"`
	} `json:"parsed"`
}

// Price busca GET {base}/v2/updates/price/latest?ids[]={account}&parsed=true.
// Resposta que não descreve o feed pedido vira ErrInvalidPythAccount; falha de rede não.
func (h *Hermes) Price(ctx context.Context, account string) (wager.OraclePrice, error) {
	key := NormalizeKey(account)
	q := url.Values{}
	q.Add("ids[]", key)
	q.Set("parsed", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.BaseURL+"/v2/updates/price/latest?"+q.Encode(), nil)
	if err != nil {
		return wager.OraclePrice{}, err
	}
	req.Header.Set("Accept", "application/json")
	res, err := h.HTTP.Do(req)
	if err != nil {
		return wager.OraclePrice{}, fmt.Errorf("oracle request: %w", err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusNotFound || res.StatusCode == http.StatusBadRequest:
		return wager.OraclePrice{}, fmt.Errorf("%w: oracle http %d", wager.ErrInvalidPythAccount, res.StatusCode)
	case res.StatusCode >= 300:
		return wager.OraclePrice{}, fmt.Errorf("oracle http %d", res.StatusCode)
	}

	var out hermesResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return wager.OraclePrice{}, fmt.Errorf("%w: %v", wager.ErrInvalidPythAccount, err)
	}
	for _, p := range out.Parsed {
		if NormalizeKey(p.ID) != key {
			continue
		}
		raw, err := strconv.ParseInt(p.Price.Price, 10, 64)
		if err != nil {
			return wager.OraclePrice{}, fmt.Errorf("%w: price %q", wager.ErrInvalidPythAccount, p.Price.Price)
		}
		return wager.OraclePrice{Key: key, Price: raw, Expo: p.Price.Expo}, nil
	}
	return wager.OraclePrice{}, fmt.Errorf("%w: feed %s missing from response", wager.ErrInvalidPythAccount, key)
}
