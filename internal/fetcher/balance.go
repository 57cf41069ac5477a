package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	serverTimePath    = "/v5/public/time"
	walletBalancePath = "/v5/account/wallet-balance"
	sessionCookieName = "secure-token"
)

// CookieOptions parameterise the session-cookie balance source.
type CookieOptions struct {
	URL         string
	Token       string
	AccountType string
}

// CookieBalance reads the balance through a browser session cookie.
type CookieBalance struct {
	opts   CookieOptions
	client *Client
	logger zerolog.Logger
}

// NewCookieBalance constructs the cookie-mode source.
func NewCookieBalance(opts CookieOptions, client *Client, logger zerolog.Logger) *CookieBalance {
	if opts.AccountType == "" {
		opts.AccountType = "ACCOUNT_TYPE_BOT"
	}
	return &CookieBalance{opts: opts, client: client, logger: logger.With().Str("component", "cookie_balance").Logger()}
}

// FetchBalance returns the origin balance of the configured account subtype.
func (c *CookieBalance) FetchBalance(ctx context.Context) (decimal.Decimal, error) {
	if c.opts.URL == "" || c.opts.Token == "" {
		return decimal.Decimal{}, errors.New("cookie url and token required")
	}

	resp, err := c.client.Fetch(ctx, Request{
		Method:  http.MethodGet,
		URL:     c.opts.URL,
		Cookies: []*http.Cookie{{Name: sessionCookieName, Value: c.opts.Token}},
	})
	if err != nil {
		return decimal.Decimal{}, err
	}

	var payload struct {
		Result *struct {
			TotalBalanceItems []struct {
				AccountType   string          `json:"accountType"`
				OriginBalance json.RawMessage `json:"originBalance"`
			} `json:"totalBalanceItems"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: decode balance: %v", ErrDataShape, err)
	}

	if payload.Result == nil || payload.Result.TotalBalanceItems == nil {
		return decimal.Decimal{}, fmt.Errorf("%w: session cookie no longer accepted", ErrCredentialExpired)
	}

	for _, item := range payload.Result.TotalBalanceItems {
		if item.AccountType != c.opts.AccountType {
			continue
		}
		amount, err := parseAmount(item.OriginBalance)
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("originBalance of %s: %w", c.opts.AccountType, err)
		}
		return amount, nil
	}

	return decimal.Decimal{}, fmt.Errorf("%w: account %s not present", ErrDataShape, c.opts.AccountType)
}

// SignedOptions parameterise the API-key balance source.
type SignedOptions struct {
	BaseURL       string
	AccountType   string
	Coin          string
	UseServerTime bool
}

// SignedBalance reads the balance through the signed REST API.
type SignedBalance struct {
	opts   SignedOptions
	signer *Signer
	client *Client
	now    func() time.Time
	logger zerolog.Logger
}

// NewSignedBalance constructs the signed-mode source.
func NewSignedBalance(opts SignedOptions, signer *Signer, client *Client, logger zerolog.Logger) *SignedBalance {
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.AccountType == "" {
		opts.AccountType = "UNIFIED"
	}
	if opts.Coin == "" {
		opts.Coin = "USDT"
	}
	return &SignedBalance{
		opts:   opts,
		signer: signer,
		client: client,
		now:    time.Now,
		logger: logger.With().Str("component", "signed_balance").Logger(),
	}
}

type walletResponse struct {
	RetCode *int   `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List []struct {
			AccountType string `json:"accountType"`
			Coin        []struct {
				Coin   string          `json:"coin"`
				Equity json.RawMessage `json:"equity"`
			} `json:"coin"`
		} `json:"list"`
	} `json:"result"`
}

// FetchBalance returns the equity of the configured coin.
func (s *SignedBalance) FetchBalance(ctx context.Context) (decimal.Decimal, error) {
	if s.opts.BaseURL == "" {
		return decimal.Decimal{}, errors.New("exchange base url not configured")
	}

	timestamp, err := s.timestamp(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}

	query := url.Values{}
	query.Set("accountType", s.opts.AccountType)
	canonical := query.Encode()

	resp, err := s.client.Fetch(ctx, Request{
		Method: http.MethodGet,
		URL:    s.opts.BaseURL + walletBalancePath,
		Query:  query,
		Header: s.signer.Headers(timestamp, canonical),
	})
	if err != nil {
		return decimal.Decimal{}, err
	}

	var payload walletResponse
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: decode wallet balance: %v", ErrDataShape, err)
	}
	if payload.RetCode == nil {
		return decimal.Decimal{}, fmt.Errorf("%w: retCode missing", ErrDataShape)
	}
	if *payload.RetCode != 0 {
		msg := payload.RetMsg
		if msg == "" {
			msg = "unknown error"
		}
		return decimal.Decimal{}, fmt.Errorf("%w: retCode %d: %s", ErrCredentialExpired, *payload.RetCode, msg)
	}

	for _, account := range payload.Result.List {
		if account.AccountType != s.opts.AccountType {
			continue
		}
		for _, coin := range account.Coin {
			if coin.Coin != s.opts.Coin {
				continue
			}
			amount, err := parseAmount(coin.Equity)
			if err != nil {
				return decimal.Decimal{}, fmt.Errorf("%s equity: %w", s.opts.Coin, err)
			}
			return amount, nil
		}
	}

	return decimal.Decimal{}, fmt.Errorf("%w: %s balance not found in %s account", ErrDataShape, s.opts.Coin, s.opts.AccountType)
}

// timestamp prefers exchange time so the receive window tolerates local clock
// skew. Transport exhaustion propagates; anything else falls back to local time.
func (s *SignedBalance) timestamp(ctx context.Context) (int64, error) {
	local := s.now().UnixMilli()
	if !s.opts.UseServerTime {
		return local, nil
	}

	resp, err := s.client.Fetch(ctx, Request{Method: http.MethodGet, URL: s.opts.BaseURL + serverTimePath})
	if err != nil {
		if errors.Is(err, ErrRetriesExhausted) || ctx.Err() != nil {
			return 0, err
		}
		s.logger.Warn().Err(err).Msg("server time unavailable; using local clock")
		return local, nil
	}

	var payload struct {
		RetCode int `json:"retCode"`
		Result  struct {
			Time json.Number `json:"time"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil || payload.RetCode != 0 {
		s.logger.Warn().Msg("server time response unusable; using local clock")
		return local, nil
	}
	serverTime, err := payload.Result.Time.Int64()
	if err != nil || serverTime <= 0 {
		return local, nil
	}
	return serverTime, nil
}

// parseAmount accepts a JSON number or numeric string. Missing or non-numeric
// values are a data-shape failure, never a zero balance.
func parseAmount(raw json.RawMessage) (decimal.Decimal, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return decimal.Decimal{}, fmt.Errorf("%w: balance missing", ErrDataShape)
	}
	text := strings.Trim(string(trimmed), `"`)
	if text == "" {
		return decimal.Decimal{}, fmt.Errorf("%w: balance empty", ErrDataShape)
	}
	amount, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: balance %q is not numeric", ErrDataShape, text)
	}
	return amount, nil
}

var (
	_ BalanceFetcher = (*CookieBalance)(nil)
	_ BalanceFetcher = (*SignedBalance)(nil)
)
