package chain

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
	"github.com/tidwall/gjson"

	"github.com/utrading/utrading-copy-trader/internal/apperr"
	"github.com/utrading/utrading-copy-trader/internal/httpx"
	"github.com/utrading/utrading-copy-trader/internal/models"
	"github.com/utrading/utrading-copy-trader/pkg/logger"
)

// ExplorerChain 单条链的区块浏览器配置
type ExplorerChain struct {
	Name          string
	ChainID       int64
	BaseURL       string
	APIKey        string
	RateLimit     float64
	StableTokens  []string
	WrappedNative string
}

type explorerEndpoint struct {
	cfg     ExplorerChain
	client  *httpx.Client
	stables map[string]bool
}

// ExplorerProvider 基于 Etherscan v2 兼容接口的链上数据来源
// 通过 tokentx 拉取 ERC-20 转账，并按交易哈希聚合为 swap
type ExplorerProvider struct {
	endpoints map[string]*explorerEndpoint
	pricer    QuotePricer
}

var (
	_ DataProvider   = (*ExplorerProvider)(nil)
	_ ChainSupporter = (*ExplorerProvider)(nil)
)

// NewExplorerProvider 创建数据源，pricer 为空时非稳定币报价的交易美元价值为 0
func NewExplorerProvider(chains []ExplorerChain, pricer QuotePricer, backoff time.Duration) *ExplorerProvider {
	p := &ExplorerProvider{
		endpoints: make(map[string]*explorerEndpoint, len(chains)),
		pricer:    pricer,
	}
	for _, c := range chains {
		stables := make(map[string]bool, len(c.StableTokens))
		for _, s := range c.StableTokens {
			stables[strings.ToLower(s)] = true
		}
		c.WrappedNative = strings.ToLower(c.WrappedNative)
		p.endpoints[c.Name] = &explorerEndpoint{
			cfg: c,
			client: httpx.New(httpx.Config{
				BaseURL:     c.BaseURL,
				RateLimit:   c.RateLimit,
				BaseBackoff: backoff,
			}),
			stables: stables,
		}
	}
	return p
}

// Supports 是否配置了该链的浏览器端点
func (p *ExplorerProvider) Supports(chainName string) bool {
	_, ok := p.endpoints[chainName]
	return ok
}

func (p *ExplorerProvider) endpoint(chainName string) (*explorerEndpoint, error) {
	ep, ok := p.endpoints[chainName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedChain, chainName)
	}
	return ep, nil
}

// GetCurrentBlock 通过 proxy 模块调用 eth_blockNumber
func (p *ExplorerProvider) GetCurrentBlock(ctx context.Context, chainName string) (uint64, error) {
	ep, err := p.endpoint(chainName)
	if err != nil {
		return 0, err
	}

	req := ep.client.R(ctx).SetQueryParams(map[string]string{
		"chainid": strconv.FormatInt(ep.cfg.ChainID, 10),
		"module":  "proxy",
		"action":  "eth_blockNumber",
		"apikey":  ep.cfg.APIKey,
	})
	resp, err := ep.client.Do(ctx, http.MethodGet, "", req)
	if err != nil {
		return 0, err
	}

	result := gjson.GetBytes(resp.Body(), "result")
	if !strings.HasPrefix(result.String(), "0x") {
		return 0, classifyExplorerError("eth_blockNumber", resp.Body())
	}
	block, err := strconv.ParseUint(strings.TrimPrefix(result.String(), "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse block number %q: %w", result.String(), err)
	}
	return block, nil
}

// GetTransactions 拉取 fromBlock 之后的 swap，按区块和日志序号升序
func (p *ExplorerProvider) GetTransactions(ctx context.Context, address, chainName string, fromBlock uint64) ([]RawTransaction, error) {
	ep, err := p.endpoint(chainName)
	if err != nil {
		return nil, err
	}

	req := ep.client.R(ctx).SetQueryParams(map[string]string{
		"chainid":    strconv.FormatInt(ep.cfg.ChainID, 10),
		"module":     "account",
		"action":     "tokentx",
		"address":    address,
		"startblock": strconv.FormatUint(fromBlock, 10),
		"endblock":   "99999999",
		"sort":       "asc",
		"apikey":     ep.cfg.APIKey,
	})
	resp, err := ep.client.Do(ctx, http.MethodGet, "", req)
	if err != nil {
		return nil, err
	}

	body := resp.Body()
	if gjson.GetBytes(body, "status").String() != "1" {
		msg := gjson.GetBytes(body, "message").String()
		if strings.Contains(strings.ToLower(msg), "no transactions found") {
			return nil, nil
		}
		return nil, classifyExplorerError("tokentx", body)
	}

	transfers := parseTransfers(gjson.GetBytes(body, "result"))
	return p.buildSwaps(ctx, ep, strings.ToLower(address), transfers), nil
}

// classifyExplorerError 限流类返回视为临时错误
func classifyExplorerError(op string, body []byte) error {
	result := gjson.GetBytes(body, "result").String()
	msg := gjson.GetBytes(body, "message").String()
	err := fmt.Errorf("explorer %s error: %s %s", op, msg, result)
	lower := strings.ToLower(result + " " + msg)
	if strings.Contains(lower, "rate limit") || strings.Contains(lower, "timeout") || strings.Contains(lower, "busy") {
		return apperr.Transient(op, err)
	}
	return err
}

type tokenTransfer struct {
	hash        string
	blockNumber uint64
	logIndex    uint
	timestamp   time.Time
	from        string
	to          string
	token       string
	symbol      string
	amount      decimal.Decimal
	gasUsed     uint64
	gasPriceWei decimal.Decimal
}

func parseTransfers(result gjson.Result) []tokenTransfer {
	items := result.Array()
	out := make([]tokenTransfer, 0, len(items))
	for _, it := range items {
		raw, err := decimal.NewFromString(it.Get("value").String())
		if err != nil {
			continue
		}
		decimals := cast.ToInt32(it.Get("tokenDecimal").String())
		gasPrice, _ := decimal.NewFromString(it.Get("gasPrice").String())
		out = append(out, tokenTransfer{
			hash:        strings.ToLower(it.Get("hash").String()),
			blockNumber: cast.ToUint64(it.Get("blockNumber").String()),
			logIndex:    cast.ToUint(it.Get("logIndex").String()),
			timestamp:   time.Unix(cast.ToInt64(it.Get("timeStamp").String()), 0).UTC(),
			from:        strings.ToLower(it.Get("from").String()),
			to:          strings.ToLower(it.Get("to").String()),
			token:       strings.ToLower(it.Get("contractAddress").String()),
			symbol:      it.Get("tokenSymbol").String(),
			amount:      raw.Shift(-decimals),
			gasUsed:     cast.ToUint64(it.Get("gasUsed").String()),
			gasPriceWei: gasPrice,
		})
	}
	return out
}

func (ep *explorerEndpoint) isQuote(token string) bool {
	return ep.stables[token] || (ep.cfg.WrappedNative != "" && token == ep.cfg.WrappedNative)
}

// buildSwaps 按交易哈希聚合转账：卖出报价币换入代币为买入，反之为卖出
// 同一笔交易涉及两个以上代币视为 MEV/复杂路由
func (p *ExplorerProvider) buildSwaps(ctx context.Context, ep *explorerEndpoint, wallet string, transfers []tokenTransfer) []RawTransaction {
	groups := make(map[string][]tokenTransfer)
	order := make([]string, 0)
	for _, t := range transfers {
		if t.from != wallet && t.to != wallet {
			continue
		}
		if _, ok := groups[t.hash]; !ok {
			order = append(order, t.hash)
		}
		groups[t.hash] = append(groups[t.hash], t)
	}

	var nativePrice decimal.Decimal
	nativeLoaded := false
	loadNative := func() decimal.Decimal {
		if nativeLoaded || p.pricer == nil || ep.cfg.WrappedNative == "" {
			return nativePrice
		}
		nativeLoaded = true
		price, err := p.pricer.QuotePriceUSD(ctx, ep.cfg.Name, ep.cfg.WrappedNative)
		if err != nil {
			logger.Debug().Err(err).Str("chain", ep.cfg.Name).Msg("native price unavailable")
			return nativePrice
		}
		nativePrice = price
		return nativePrice
	}

	swaps := make([]RawTransaction, 0, len(order))
	for _, hash := range order {
		legs := groups[hash]
		var in, out *tokenTransfer
		tokens := make(map[string]bool)
		for i := range legs {
			leg := &legs[i]
			tokens[leg.token] = true
			if leg.to == wallet && in == nil {
				in = leg
			}
			if leg.from == wallet && out == nil {
				out = leg
			}
		}

		first := legs[0]
		tx := RawTransaction{
			Hash:        hash,
			Chain:       ep.cfg.Name,
			BlockNumber: first.blockNumber,
			LogIndex:    first.logIndex,
			Timestamp:   first.timestamp,
			From:        wallet,
			Action:      models.ActionUnknown,
			GasUsed:     first.gasUsed,
			IsMEV:       len(tokens) > 2,
		}

		switch {
		case in != nil && out != nil && in.token != out.token && ep.isQuote(out.token) && !ep.isQuote(in.token):
			tx.Action = models.ActionBuy
			tx.TokenAddress, tx.TokenSymbol, tx.AmountToken = in.token, in.symbol, in.amount
			tx.QuoteToken, tx.AmountQuote = out.token, out.amount
		case in != nil && out != nil && in.token != out.token && ep.isQuote(in.token) && !ep.isQuote(out.token):
			tx.Action = models.ActionSell
			tx.TokenAddress, tx.TokenSymbol, tx.AmountToken = out.token, out.symbol, out.amount
			tx.QuoteToken, tx.AmountQuote = in.token, in.amount
		default:
			// 单边转账或代币互换，无法确定方向
			if in != nil {
				tx.TokenAddress, tx.TokenSymbol, tx.AmountToken = in.token, in.symbol, in.amount
			} else if out != nil {
				tx.TokenAddress, tx.TokenSymbol, tx.AmountToken = out.token, out.symbol, out.amount
			}
			swaps = append(swaps, tx)
			continue
		}

		if ep.stables[tx.QuoteToken] {
			tx.AmountUSD = tx.AmountQuote
		} else if price := loadNative(); price.IsPositive() {
			tx.AmountUSD = tx.AmountQuote.Mul(price)
		}
		if tx.AmountToken.IsPositive() && tx.AmountUSD.IsPositive() {
			tx.PriceUSD = tx.AmountUSD.Div(tx.AmountToken)
		}
		if price := loadNative(); price.IsPositive() && first.gasPriceWei.IsPositive() {
			tx.GasFeeUSD = first.gasPriceWei.Mul(decimal.NewFromUint64(first.gasUsed)).Shift(-18).Mul(price)
		}
		swaps = append(swaps, tx)
	}

	sort.SliceStable(swaps, func(i, j int) bool {
		if swaps[i].BlockNumber != swaps[j].BlockNumber {
			return swaps[i].BlockNumber < swaps[j].BlockNumber
		}
		return swaps[i].LogIndex < swaps[j].LogIndex
	})
	return swaps
}
