package oracle

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/radieske/price-duel/internal/wager"
)

// Feed busca a leitura atual de um feed de preço pelo identificador da conta
type Feed interface {
	Price(ctx context.Context, account string) (wager.OraclePrice, error)
}

// NormalizeKey deixa a chave comparável: minúscula e sem prefixo 0x
func NormalizeKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	return strings.TrimPrefix(k, "0x")
}

// Static é um Feed fixo em memória (ENV=local e testes)
type Static struct {
	mu     sync.RWMutex
	prices map[string]wager.OraclePrice
}

func NewStatic() *Static {
	return &Static{prices: make(map[string]wager.OraclePrice)}
}

// Set publica (ou substitui) a leitura de um feed
func (s *Static) Set(account string, price int64, expo int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := NormalizeKey(account)
	s.prices[key] = wager.OraclePrice{Key: key, Price: price, Expo: expo}
}

// ParseStatic monta um Static a partir de "feed=preço:expo,feed2=preço:expo"
func ParseStatic(list string) (*Static, error) {
	s := NewStatic()
	for _, item := range strings.Split(list, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		key, val, ok := strings.Cut(item, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("static price %q: expected feed=price:expo", item)
		}
		priceStr, expoStr, ok := strings.Cut(val, ":")
		if !ok {
			expoStr = "0"
		}
		price, err := strconv.ParseInt(strings.TrimSpace(priceStr), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("static price %q: %w", item, err)
		}
		expo, err := strconv.ParseInt(strings.TrimSpace(expoStr), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("static expo %q: %w", item, err)
		}
		s.Set(key, price, int32(expo))
	}
	return s, nil
}

// Len retorna quantos feeds estão publicados
func (s *Static) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.prices)
}

func (s *Static) Price(_ context.Context, account string) (wager.OraclePrice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	px, ok := s.prices[NormalizeKey(account)]
	if !ok {
		return wager.OraclePrice{}, fmt.Errorf("%w: unknown feed %s", wager.ErrInvalidPythAccount, account)
	}
	return px, nil
}
