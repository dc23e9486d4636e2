package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"bastion/internal/gateway/exchange"
	"bastion/internal/types"

	"github.com/adshao/go-binance/v2/futures"
)

// Client 基于 go-binance SDK 实现 exchange.Exchange（USDⓈ-M 合约）。
type Client struct {
	cfg    Config
	client *futures.Client
}

var _ exchange.Exchange = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	final := cfg.withDefaults()
	client := futures.NewClient(final.APIKey, final.APISecret)
	client.BaseURL = final.RESTBaseURL
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyEnabled && final.RESTProxyURL != "" {
		proxyURL, err := url.Parse(final.RESTProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REST proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient
	return &Client{cfg: final, client: client}, nil
}

func (c *Client) Name() string { return "binance" }

func (c *Client) CreateOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderConfirmation, error) {
	symbol := toVenueSymbol(req.Pair)
	svc := c.client.NewCreateOrderService().
		Symbol(symbol).
		Side(toVenueSide(req.Side)).
		Quantity(formatFloat(req.Volume))
	switch req.Type {
	case types.OrderMarket:
		svc = svc.Type(futures.OrderTypeMarket)
	case types.OrderLimit:
		svc = svc.Type(futures.OrderTypeLimit).
			Price(formatFloat(req.Price)).
			TimeInForce(toTimeInForce(req.TimeInForce))
	case types.OrderStopLoss:
		svc = svc.Type(futures.OrderTypeStopMarket).StopPrice(formatFloat(req.Price))
	case types.OrderTakeProfit:
		svc = svc.Type(futures.OrderTypeTakeProfitMarket).StopPrice(formatFloat(req.Price))
	default:
		return nil, fmt.Errorf("unsupported order type: %s", req.Type)
	}
	if req.ClientID != "" {
		svc = svc.NewClientOrderID(req.ClientID)
	}
	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}
	resp, err := svc.Do(ctx)
	if err != nil {
		return nil, err
	}
	return &exchange.OrderConfirmation{
		// Cancel 需要 symbol，编进 ID 一起带走。
		OrderID:     fmt.Sprintf("%s:%d", fromVenueSymbol(resp.Symbol), resp.OrderID),
		Pair:        fromVenueSymbol(resp.Symbol),
		Side:        req.Side,
		Volume:      req.Volume,
		FilledPrice: parseFloat(resp.AvgPrice),
		CreatedAt:   time.Now(),
	}, nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	pair, id, err := splitOrderID(orderID)
	if err != nil {
		return err
	}
	_, err = c.client.NewCancelOrderService().
		Symbol(toVenueSymbol(pair)).
		OrderID(id).
		Do(ctx)
	return err
}

func (c *Client) GetAccountBalance(ctx context.Context) (exchange.Balance, error) {
	acct, err := c.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return exchange.Balance{}, err
	}
	bal := exchange.Balance{
		QuoteCurrency: "USD",
		Total:         parseFloat(acct.TotalMarginBalance),
		Available:     parseFloat(acct.AvailableBalance),
		Wallets:       make(map[string]float64),
		UpdatedAt:     time.Now(),
	}
	for _, asset := range acct.Assets {
		if asset == nil {
			continue
		}
		wallet := parseFloat(asset.WalletBalance)
		if wallet != 0 {
			bal.Wallets[asset.Asset] = wallet
		}
	}
	return bal, nil
}

func (c *Client) GetOpenPositions(ctx context.Context) ([]exchange.Position, error) {
	risks, err := c.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]exchange.Position, 0, len(risks))
	for _, r := range risks {
		if r == nil {
			continue
		}
		amt := parseFloat(r.PositionAmt)
		if amt == 0 {
			continue
		}
		side := types.SideBuy
		if amt < 0 {
			side = types.SideSell
			amt = -amt
		}
		out = append(out, exchange.Position{
			Pair:       fromVenueSymbol(r.Symbol),
			Side:       side,
			Volume:     amt,
			EntryPrice: parseFloat(r.EntryPrice),
		})
	}
	return out, nil
}

func (c *Client) GetOpenOrders(ctx context.Context) ([]exchange.OpenOrder, error) {
	orders, err := c.client.NewListOpenOrdersService().Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]exchange.OpenOrder, 0, len(orders))
	for _, o := range orders {
		if o == nil {
			continue
		}
		pair := fromVenueSymbol(o.Symbol)
		out = append(out, exchange.OpenOrder{
			OrderID:   fmt.Sprintf("%s:%d", pair, o.OrderID),
			Pair:      pair,
			Side:      fromVenueSide(o.Side),
			Type:      fromVenueType(o.Type),
			Volume:    parseFloat(o.OrigQuantity),
			Price:     parseFloat(o.Price),
			CreatedAt: time.UnixMilli(o.Time),
		})
	}
	return out, nil
}

func (c *Client) GetTicker(ctx context.Context, pair string) (exchange.Ticker, error) {
	symbol := toVenueSymbol(pair)
	stats, err := c.client.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil {
		return exchange.Ticker{}, err
	}
	if len(stats) == 0 || stats[0] == nil {
		return exchange.Ticker{}, fmt.Errorf("no ticker for %s", pair)
	}
	t := exchange.Ticker{
		Pair:      pair,
		Last:      parseFloat(stats[0].LastPrice),
		High:      parseFloat(stats[0].HighPrice),
		Low:       parseFloat(stats[0].LowPrice),
		UpdatedAt: time.Now(),
	}
	books, err := c.client.NewListBookTickersService().Symbol(symbol).Do(ctx)
	if err == nil && len(books) > 0 && books[0] != nil {
		t.Bid = parseFloat(books[0].BidPrice)
		t.Ask = parseFloat(books[0].AskPrice)
	}
	return t, nil
}

func (c *Client) GetOrderBook(ctx context.Context, pair string, depth int) (exchange.OrderBook, error) {
	if depth <= 0 {
		depth = 100
	}
	resp, err := c.client.NewDepthService().
		Symbol(toVenueSymbol(pair)).
		Limit(depth).
		Do(ctx)
	if err != nil {
		return exchange.OrderBook{}, err
	}
	book := exchange.OrderBook{Pair: pair, UpdatedAt: time.Now()}
	for _, b := range resp.Bids {
		book.Bids = append(book.Bids, exchange.BookLevel{Price: parseFloat(b.Price), Volume: parseFloat(b.Quantity)})
	}
	for _, a := range resp.Asks {
		book.Asks = append(book.Asks, exchange.BookLevel{Price: parseFloat(a.Price), Volume: parseFloat(a.Quantity)})
	}
	return book, nil
}

func (c *Client) GetTradableAssetPairs(ctx context.Context) (map[string]exchange.AssetPair, error) {
	info, err := c.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]exchange.AssetPair, len(info.Symbols))
	for i := range info.Symbols {
		s := &info.Symbols[i]
		pair := fromVenueSymbol(s.Symbol)
		ap := exchange.AssetPair{
			Pair:   pair,
			Base:   s.BaseAsset,
			Quote:  s.QuoteAsset,
			Online: s.Status == "TRADING",
		}
		if lot := s.LotSizeFilter(); lot != nil {
			ap.MinOrderSize = parseFloat(lot.MinQuantity)
		}
		if pf := s.PriceFilter(); pf != nil {
			ap.PriceStep = parseFloat(pf.TickSize)
		}
		out[pair] = ap
	}
	return out, nil
}

func (c *Client) GetServerTime(ctx context.Context) (int64, error) {
	return c.client.NewServerTimeService().Do(ctx)
}

func splitOrderID(orderID string) (pair string, id int64, err error) {
	parts := strings.SplitN(orderID, ":", 2)
	if len(parts) != 2 {
		return "", 0, fmt.Errorf("malformed order id %q", orderID)
	}
	id, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("malformed order id %q: %w", orderID, err)
	}
	return parts[0], id, nil
}

func toVenueSide(side types.OrderSide) futures.SideType {
	if side == types.SideSell {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

func fromVenueSide(side futures.SideType) types.OrderSide {
	if side == futures.SideTypeSell {
		return types.SideSell
	}
	return types.SideBuy
}

func fromVenueType(t futures.OrderType) types.OrderType {
	switch t {
	case futures.OrderTypeLimit:
		return types.OrderLimit
	case futures.OrderTypeStopMarket, futures.OrderTypeStop:
		return types.OrderStopLoss
	case futures.OrderTypeTakeProfitMarket, futures.OrderTypeTakeProfit:
		return types.OrderTakeProfit
	default:
		return types.OrderMarket
	}
}

func toTimeInForce(tif string) futures.TimeInForceType {
	switch strings.ToUpper(strings.TrimSpace(tif)) {
	case "IOC":
		return futures.TimeInForceTypeIOC
	case "FOK":
		return futures.TimeInForceTypeFOK
	default:
		return futures.TimeInForceTypeGTC
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}
