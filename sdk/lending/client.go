package lending

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"intentlend/crypto"
	"intentlend/gateway/middleware"
	"intentlend/native/bank"
	"intentlend/native/intents"
	"intentlend/native/lending"
	"intentlend/native/viewcache"
)

// ErrClientClosed is returned by calls on a nil client.
var ErrClientClosed = errors.New("lending: client is nil")

// APIError carries the status and message of a failed request.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("lending api: %d %s", e.Status, e.Message)
}

// Client provides typed helpers over the lendingd HTTP API.
type Client struct {
	base   *url.URL
	http   *http.Client
	token  string
	caller crypto.Address
}

type Option func(*Client)

// WithHTTPClient replaces the default client (10s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithBearerToken authenticates every request with token.
func WithBearerToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// WithCaller names the caller on daemons running with auth disabled.
func WithCaller(addr crypto.Address) Option {
	return func(c *Client) { c.caller = addr }
}

// New builds a client for the daemon at baseURL, e.g. https://lend.example:8080.
func New(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("lending: parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("lending: unsupported scheme %q", base.Scheme)
	}
	c := &Client{base: base, http: &http.Client{Timeout: 10 * time.Second}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = c.base.Path + "/v1" + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) authorize(h http.Header) {
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	if !c.caller.IsZero() {
		h.Set(middleware.CallerHeader, c.caller.Hex())
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if c == nil {
		return ErrClientClosed
	}
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("lending: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req.Header)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		var payload struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &payload) != nil || payload.Error == "" {
			payload.Error = strings.TrimSpace(string(raw))
		}
		return &APIError{Status: resp.StatusCode, Message: payload.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("lending: decode response: %w", err)
	}
	return nil
}

type assetAmount struct {
	Asset  crypto.Address `json:"asset"`
	Amount string         `json:"amount"`
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseAmount(raw string) (*big.Int, error) {
	v, err := bank.ParseAmount(raw)
	if err != nil {
		return nil, fmt.Errorf("lending: %w", err)
	}
	return v, nil
}

// Deposit locks collateral for the caller and returns the updated position.
func (c *Client) Deposit(ctx context.Context, asset crypto.Address, amount *big.Int) (*lending.Position, error) {
	var pos lending.Position
	if err := c.do(ctx, http.MethodPost, "/deposit", nil, assetAmount{asset, amountString(amount)}, &pos); err != nil {
		return nil, err
	}
	return &pos, nil
}

// Withdraw releases collateral back to the caller's wallet.
func (c *Client) Withdraw(ctx context.Context, asset crypto.Address, amount *big.Int) (*lending.Position, error) {
	var pos lending.Position
	if err := c.do(ctx, http.MethodPost, "/withdraw", nil, assetAmount{asset, amountString(amount)}, &pos); err != nil {
		return nil, err
	}
	return &pos, nil
}

// Reservation mirrors the JSON view served for escrow reservations.
type Reservation struct {
	LendHash   intents.Bytes32 `json:"lendHash"`
	Lender     crypto.Address  `json:"lender"`
	Asset      crypto.Address  `json:"asset"`
	Amount     string          `json:"amount"`
	Active     bool            `json:"active"`
	ReservedAt uint64          `json:"reservedAt"`
}

// Reserve earmarks lender funds against a signed lend intent hash.
func (c *Client) Reserve(ctx context.Context, asset crypto.Address, amount *big.Int, lendHash [32]byte) (*Reservation, error) {
	body := struct {
		assetAmount
		LendHash intents.Bytes32 `json:"lendHash"`
	}{assetAmount{asset, amountString(amount)}, intents.Bytes32(lendHash)}
	var res Reservation
	if err := c.do(ctx, http.MethodPost, "/reservations", nil, body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// CancelReservation returns reserved funds to the lender.
func (c *Client) CancelReservation(ctx context.Context, lendHash [32]byte) (*Reservation, error) {
	var res Reservation
	if err := c.do(ctx, http.MethodDelete, "/reservations/"+intents.Bytes32(lendHash).Hex(), nil, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetReservation reads a reservation by lend intent hash.
func (c *Client) GetReservation(ctx context.Context, lendHash [32]byte) (*Reservation, error) {
	var res Reservation
	if err := c.do(ctx, http.MethodGet, "/reservations/"+intents.Bytes32(lendHash).Hex(), nil, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// FinalizeMatch submits a signed borrow intent and its lend intents.
func (c *Client) FinalizeMatch(ctx context.Context, req *lending.MatchRequest) (*lending.LoanOrder, error) {
	var order lending.LoanOrder
	if err := c.do(ctx, http.MethodPost, "/matches", nil, req, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// Repay pays down an order from the caller's wallet.
func (c *Client) Repay(ctx context.Context, orderID uint64, asset crypto.Address, amount *big.Int) (*lending.RepayResult, error) {
	var res lending.RepayResult
	path := "/orders/" + strconv.FormatUint(orderID, 10) + "/repay"
	if err := c.do(ctx, http.MethodPost, path, nil, assetAmount{asset, amountString(amount)}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Liquidate settles an overdue or unhealthy order.
func (c *Client) Liquidate(ctx context.Context, orderID uint64) (*lending.LiquidationResult, error) {
	var res lending.LiquidationResult
	path := "/orders/" + strconv.FormatUint(orderID, 10) + "/liquidate"
	if err := c.do(ctx, http.MethodPost, path, nil, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// BatchLiquidate attempts every order independently.
func (c *Client) BatchLiquidate(ctx context.Context, orderIDs []uint64) ([]lending.BatchOutcome, error) {
	var out struct {
		Outcomes []lending.BatchOutcome `json:"outcomes"`
	}
	body := map[string][]uint64{"orderIds": orderIDs}
	if err := c.do(ctx, http.MethodPost, "/liquidations/batch", nil, body, &out); err != nil {
		return nil, err
	}
	return out.Outcomes, nil
}

// Candidates lists orders currently eligible for liquidation.
func (c *Client) Candidates(ctx context.Context, limit int) ([]lending.Candidate, error) {
	var query url.Values
	if limit > 0 {
		query = url.Values{"limit": {strconv.Itoa(limit)}}
	}
	var out struct {
		Candidates []lending.Candidate `json:"candidates"`
	}
	if err := c.do(ctx, http.MethodGet, "/liquidations/candidates", query, nil, &out); err != nil {
		return nil, err
	}
	return out.Candidates, nil
}

// SettlePenalty pays outstanding late penalties for user.
func (c *Client) SettlePenalty(ctx context.Context, user, asset crypto.Address, amount *big.Int) (paid, remaining *big.Int, err error) {
	body := struct {
		User crypto.Address `json:"user"`
		assetAmount
	}{user, assetAmount{asset, amountString(amount)}}
	var out struct {
		Paid      string `json:"paid"`
		Remaining string `json:"remaining"`
	}
	if err := c.do(ctx, http.MethodPost, "/penalties/settle", nil, body, &out); err != nil {
		return nil, nil, err
	}
	if paid, err = parseAmount(out.Paid); err != nil {
		return nil, nil, err
	}
	if remaining, err = parseAmount(out.Remaining); err != nil {
		return nil, nil, err
	}
	return paid, remaining, nil
}

// Position returns the caller-independent position of user in asset.
func (c *Client) Position(ctx context.Context, user, asset crypto.Address) (*lending.Position, error) {
	var pos lending.Position
	query := url.Values{"asset": {asset.Hex()}}
	if err := c.do(ctx, http.MethodGet, "/positions/"+user.Hex(), query, nil, &pos); err != nil {
		return nil, err
	}
	return &pos, nil
}

// Positions lists every position held by user.
func (c *Client) Positions(ctx context.Context, user crypto.Address) ([]*lending.Position, error) {
	var out struct {
		Positions []*lending.Position `json:"positions"`
	}
	if err := c.do(ctx, http.MethodGet, "/positions/"+user.Hex(), nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Positions, nil
}

// HealthFactor returns user's health factor in basis points.
func (c *Client) HealthFactor(ctx context.Context, user crypto.Address) (uint64, error) {
	var out struct {
		HealthFactorBps uint64 `json:"healthFactorBps"`
	}
	if err := c.do(ctx, http.MethodGet, "/positions/"+user.Hex()+"/health", nil, nil, &out); err != nil {
		return 0, err
	}
	return out.HealthFactorBps, nil
}

func (c *Client) Totals(ctx context.Context, asset crypto.Address) (*lending.AssetTotals, error) {
	var totals lending.AssetTotals
	if err := c.do(ctx, http.MethodGet, "/totals/"+asset.Hex(), nil, nil, &totals); err != nil {
		return nil, err
	}
	return &totals, nil
}

func (c *Client) Balance(ctx context.Context, owner, asset crypto.Address) (*big.Int, error) {
	var out struct {
		Balance string `json:"balance"`
	}
	if err := c.do(ctx, http.MethodGet, "/balances/"+owner.Hex()+"/"+asset.Hex(), nil, nil, &out); err != nil {
		return nil, err
	}
	return parseAmount(out.Balance)
}

func (c *Client) Order(ctx context.Context, id uint64) (*lending.LoanOrder, error) {
	var order lending.LoanOrder
	if err := c.do(ctx, http.MethodGet, "/orders/"+strconv.FormatUint(id, 10), nil, nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *Client) OrdersByBorrower(ctx context.Context, borrower crypto.Address) ([]*lending.LoanOrder, error) {
	var out struct {
		Orders []*lending.LoanOrder `json:"orders"`
	}
	if err := c.do(ctx, http.MethodGet, "/borrowers/"+borrower.Hex()+"/orders", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Orders, nil
}

// IntentConsumed reports whether an intent hash has been used by a match.
func (c *Client) IntentConsumed(ctx context.Context, hash [32]byte) (bool, error) {
	var out struct {
		Consumed bool `json:"consumed"`
	}
	if err := c.do(ctx, http.MethodGet, "/intents/"+intents.Bytes32(hash).Hex(), nil, nil, &out); err != nil {
		return false, err
	}
	return out.Consumed, nil
}

func (c *Client) Penalty(ctx context.Context, user, asset crypto.Address) (*big.Int, error) {
	var out struct {
		Outstanding string `json:"outstanding"`
	}
	if err := c.do(ctx, http.MethodGet, "/penalties/"+user.Hex()+"/"+asset.Hex(), nil, nil, &out); err != nil {
		return nil, err
	}
	return parseAmount(out.Outstanding)
}

// ViewEntry reads the cached view of user in asset. A zero user reads the
// per-asset statistics entry.
func (c *Client) ViewEntry(ctx context.Context, user, asset crypto.Address) (*viewcache.Entry, error) {
	segment := "stats"
	if !user.IsZero() {
		segment = user.Hex()
	}
	var entry viewcache.Entry
	if err := c.do(ctx, http.MethodGet, "/views/"+segment+"/"+asset.Hex(), nil, nil, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// OrderView reads the cached lifecycle view of an order.
func (c *Client) OrderView(ctx context.Context, orderID uint64) (*viewcache.OrderEntry, error) {
	var entry viewcache.OrderEntry
	if err := c.do(ctx, http.MethodGet, "/views/orders/"+strconv.FormatUint(orderID, 10), nil, nil, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// ViewDigest returns the digest over every cached view entry.
func (c *Client) ViewDigest(ctx context.Context) (string, int, error) {
	var out struct {
		Digest  string `json:"digest"`
		Entries int    `json:"entries"`
	}
	if err := c.do(ctx, http.MethodGet, "/views/digest", nil, nil, &out); err != nil {
		return "", 0, err
	}
	return out.Digest, out.Entries, nil
}

// Domain fetches the signing domain intents must be bound to.
func (c *Client) Domain(ctx context.Context) (intents.Domain, error) {
	var out struct {
		Domain intents.Domain `json:"domain"`
	}
	if err := c.do(ctx, http.MethodGet, "/domain", nil, nil, &out); err != nil {
		return intents.Domain{}, err
	}
	return out.Domain, nil
}

// Credit mints test balances. Operators only.
func (c *Client) Credit(ctx context.Context, owner, asset crypto.Address, amount *big.Int) (*big.Int, error) {
	body := struct {
		Owner crypto.Address `json:"owner"`
		assetAmount
	}{owner, assetAmount{asset, amountString(amount)}}
	var out struct {
		Balance string `json:"balance"`
	}
	if err := c.do(ctx, http.MethodPost, "/admin/credit", nil, body, &out); err != nil {
		return nil, err
	}
	return parseAmount(out.Balance)
}

// SetRoles grants or revokes named roles. Admins only.
func (c *Client) SetRoles(ctx context.Context, holder crypto.Address, roles []string, grant bool) error {
	body := struct {
		Holder crypto.Address `json:"holder"`
		Roles  []string       `json:"roles"`
		Grant  bool           `json:"grant"`
	}{holder, roles, grant}
	return c.do(ctx, http.MethodPost, "/admin/roles", nil, body, nil)
}
