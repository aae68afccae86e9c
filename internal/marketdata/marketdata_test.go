package marketdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAlphaClientGetKlines(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bapi/defi/v1/public/alpha-trade/klines" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("symbol"); got != "AIOT" {
			t.Errorf("symbol = %s, want AIOT", got)
		}
		w.Write([]byte(`{"code":"000000","message":"","data":[
			[1700000000000,"0.24","0.26","0.23","0.25","120000",1700003599999],
			[1700003600000,"0.25","0.27","0.24","0.26","98000",1700007199999]
		]}`))
	}))
	defer server.Close()

	client := NewAlphaClient("", "", server.URL)
	klines, err := client.GetKlines(context.Background(), "AIOT", "1h", 2)
	if err != nil {
		t.Fatalf("GetKlines: %v", err)
	}
	if len(klines) != 2 {
		t.Fatalf("got %d klines, want 2", len(klines))
	}
	if klines[0].Open != 0.24 || klines[0].Close != 0.25 {
		t.Errorf("kline[0] = %+v", klines[0])
	}
	if klines[1].Volume != 98000 {
		t.Errorf("kline[1].Volume = %f, want 98000", klines[1].Volume)
	}
}

func TestAlphaClientErrorEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"100001","message":"symbol not found","data":null}`))
	}))
	defer server.Close()

	client := NewAlphaClient("", "", server.URL)
	if _, err := client.GetTicker(context.Background(), "NOPE"); err == nil {
		t.Error("expected error from non-zero envelope code")
	}
}

func TestAlphaClientTicker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"000000","data":{
			"symbol":"AIOT","lastPrice":"0.245","priceChangePercent":"12.5",
			"highPrice":"0.26","lowPrice":"0.21","volume":"5100000","quoteVolume":"1249500"
		}}`))
	}))
	defer server.Close()

	client := NewAlphaClient("", "", server.URL)
	ticker, err := client.GetTicker(context.Background(), "AIOT")
	if err != nil {
		t.Fatalf("GetTicker: %v", err)
	}
	if ticker.LastPrice != 0.245 {
		t.Errorf("LastPrice = %f, want 0.245", ticker.LastPrice)
	}
	if ticker.PriceChangePercent != 12.5 {
		t.Errorf("PriceChangePercent = %f, want 12.5", ticker.PriceChangePercent)
	}
}

func TestDexScreenerBestPairPicksDeepestOnChain(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"pairs":[
			{"chainId":"bsc","pairAddress":"0xaaa","priceUsd":"0.24","liquidity":{"usd":150000},"volume":{"h24":90000},"priceChange":{"h24":4.1}},
			{"chainId":"bsc","pairAddress":"0xbbb","priceUsd":"0.25","liquidity":{"usd":800000},"volume":{"h24":400000},"priceChange":{"h24":4.0}},
			{"chainId":"base","pairAddress":"0xccc","priceUsd":"0.26","liquidity":{"usd":9000000},"volume":{"h24":100000},"priceChange":{"h24":3.0}}
		]}`))
	}))
	defer server.Close()

	client := NewDexScreenerClient(server.URL)
	pair, err := client.BestPair(context.Background(), "0xtoken", "BSC")
	if err != nil {
		t.Fatalf("BestPair: %v", err)
	}
	if pair.PairAddress != "0xbbb" {
		t.Errorf("best pair = %s, want 0xbbb (deepest on bsc)", pair.PairAddress)
	}
	if pair.PriceUSD != 0.25 {
		t.Errorf("price = %f, want 0.25", pair.PriceUSD)
	}
}

func TestDexScreenerNoPools(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"pairs":[]}`))
	}))
	defer server.Close()

	client := NewDexScreenerClient(server.URL)
	if _, err := client.BestPair(context.Background(), "0xtoken", "BSC"); err == nil {
		t.Error("expected error for token with no pools")
	}
}

func TestMockProviderComprehensiveData(t *testing.T) {
	mock := NewMockProvider()
	mock.SetPrice("AIOT", 0.25)

	data, err := mock.GetComprehensiveData(context.Background(), TokenRef{Symbol: "AIOT", Chain: "BSC"})
	if err != nil {
		t.Fatalf("GetComprehensiveData: %v", err)
	}
	if len(data.Klines1h) != 100 {
		t.Errorf("got %d 1h klines, want 100", len(data.Klines1h))
	}
	if len(data.Klines4h) != 60 {
		t.Errorf("got %d 4h klines, want 60", len(data.Klines4h))
	}
	if data.CurrentPrice <= 0 {
		t.Error("mock price should be positive")
	}
	for i, k := range data.Klines1h {
		if k.High < k.Low {
			t.Fatalf("kline %d has high < low", i)
		}
	}
	if data.PoolLiquidityUSD <= 0 {
		t.Error("mock liquidity should be positive")
	}
}

func TestComprehensiveDataHelpers(t *testing.T) {
	data := &ComprehensiveData{
		QuoteVolume24h:   500_000,
		PoolLiquidityUSD: 250_000,
		ListingTime:      time.Now().Add(-48 * time.Hour).UnixMilli(),
	}
	if got := data.TurnoverRate(); got != 2.0 {
		t.Errorf("TurnoverRate = %f, want 2.0", got)
	}

	age := data.AgeDays(time.Now())
	if age < 1.9 || age > 2.1 {
		t.Errorf("AgeDays = %f, want ~2", age)
	}

	unknown := &ComprehensiveData{}
	if unknown.AgeDays(time.Now()) != -1 {
		t.Error("unknown listing time should report -1")
	}
	if unknown.TurnoverRate() != 0 {
		t.Error("zero liquidity should report 0 turnover")
	}
}
